// +build linux

package tcpclient

import (
	"fmt"
	"sync"

	"github.com/Allenxuxu/toolkit/sync/atomic"
	"github.com/munetio/munet/net/connector"
	"github.com/munetio/munet/net/eventloop"
	"github.com/munetio/munet/net/log"
	"github.com/munetio/munet/net/socket"
	"github.com/munetio/munet/net/tcpconnect"
)

// TcpClient owns one Connector and at most one live connection. The
// connection slot is mutex-guarded because the owner may look at it from any
// goroutine; everything else runs on the client's loop.
type TcpClient struct {
	loop      *eventloop.EventLoop
	name      string
	connector *connector.Connector

	retry   atomic.Bool // reconnect after an established connection drops
	connect atomic.Bool // owner wants to be connected

	mutex      sync.Mutex
	connection *tcpconnect.TcpConnect
	nextConnID int64

	connectionCallback    tcpconnect.OnConnectionCallback
	messageCallback       tcpconnect.OnMessageCallback
	writeCompleteCallback tcpconnect.OnWriteCompleteCallback
}

func New(loop *eventloop.EventLoop, name string, serverAddr *socket.InetAddr) *TcpClient {
	client := &TcpClient{
		loop:      loop,
		name:      name,
		connector: connector.New(loop, serverAddr),
	}
	client.connector.SetNewConnectionCallback(client.newConnection)
	return client
}

func (this *TcpClient) Name() string {
	return this.name
}

// Connection is the live connection, or nil while disconnected.
func (this *TcpClient) Connection() *tcpconnect.TcpConnect {
	this.mutex.Lock()
	defer this.mutex.Unlock()
	return this.connection
}

// EnableRetry makes the client redial after an established connection
// drops.
func (this *TcpClient) EnableRetry() {
	this.retry.Set(true)
}

func (this *TcpClient) SetConnectionCallback(cb tcpconnect.OnConnectionCallback) {
	this.connectionCallback = cb
}

func (this *TcpClient) SetMessageCallback(cb tcpconnect.OnMessageCallback) {
	this.messageCallback = cb
}

func (this *TcpClient) SetWriteCompleteCallback(cb tcpconnect.OnWriteCompleteCallback) {
	this.writeCompleteCallback = cb
}

// Connect starts dialing.
func (this *TcpClient) Connect() {
	log.Infof("client %s connecting to %s", this.name, this.connector.ServerAddr().IPPort())
	this.connect.Set(true)
	this.connector.Start()
}

// Disconnect half-closes the established connection, if any. Pending dials
// are untouched.
func (this *TcpClient) Disconnect() {
	this.connect.Set(false)
	this.mutex.Lock()
	if this.connection != nil {
		this.connection.Shutdown()
	}
	this.mutex.Unlock()
}

// Stop cancels pending dials without touching an established connection.
func (this *TcpClient) Stop() {
	this.connect.Set(false)
	this.connector.Stop()
}

// newConnection wraps the fd the connector handed over. Loop goroutine.
func (this *TcpClient) newConnection(fd int) {
	this.loop.AssertInLoopGoroutine()

	peerAddr := socket.FromSockaddr(socket.GetPeerAddr(fd))
	localAddr := socket.FromSockaddr(socket.GetLocalAddr(fd))
	this.nextConnID++
	name := fmt.Sprintf("%s-%s#%d", this.name, peerAddr.IPPort(), this.nextConnID)

	connect := tcpconnect.New(this.loop, name, fd, localAddr, peerAddr)
	connect.SetConnectionCallback(this.connectionCallback)
	connect.SetMessageCallback(this.messageCallback)
	connect.SetWriteCompleteCallback(this.writeCompleteCallback)
	connect.SetCloseCallback(this.removeConnection)

	this.mutex.Lock()
	this.connection = connect
	this.mutex.Unlock()

	connect.ConnectedHandle()
}

// removeConnection clears the slot and, when retry is wanted and the owner
// still wants to be connected, restarts the connector from the initial
// backoff.
func (this *TcpClient) removeConnection(connect *tcpconnect.TcpConnect) {
	this.loop.AssertInLoopGoroutine()

	this.mutex.Lock()
	this.connection = nil
	this.mutex.Unlock()

	this.loop.QueueInLoop(connect.ConnectDestroyed)

	if this.retry.Get() && this.connect.Get() {
		log.Infof("client %s reconnecting to %s", this.name, this.connector.ServerAddr().IPPort())
		this.connector.Restart()
	}
}
