// +build linux

package main

import (
	"flag"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/munetio/munet/net/buffer"
	"github.com/munetio/munet/net/eventloop"
	"github.com/munetio/munet/net/log"
	"github.com/munetio/munet/net/protocol"
	"github.com/munetio/munet/net/tcpconnect"
	"github.com/munetio/munet/net/tcpserver"
)

type Echo struct {
	connectTimes int64
}

func (this *Echo) OnConnection(c *tcpconnect.TcpConnect) {
	if c.IsConnected() {
		atomic.AddInt64(&this.connectTimes, 1)
		log.Infof("connect:[%s]", c.PeerAddr().IPPort())
	} else {
		atomic.AddInt64(&this.connectTimes, -1)
		log.Infof("connect close:[%s]", c.PeerAddr().IPPort())
	}
}

func (this *Echo) OnMessage(c *tcpconnect.TcpConnect, buf *buffer.Buffer, receiveTime time.Time) {
	_ = c.SendString(buf.RetrieveAllString())
}

func main() {
	go func() {
		if err := http.ListenAndServe(":6060", nil); err != nil {
			panic(err)
		}
	}()

	handler := new(Echo)
	var port int
	var loops int

	flag.IntVar(&port, "port", 58810, "server port")
	flag.IntVar(&loops, "loops", 2, "num loops")
	flag.Parse()

	log.Info("server begin")

	loop, err := eventloop.New()
	if err != nil {
		panic(err)
	}

	s, err := tcpserver.New(loop,
		protocol.Name("echo"),
		protocol.Network("tcp"),
		protocol.Address(":"+strconv.Itoa(port)),
		protocol.NumLoops(loops))
	if err != nil {
		panic(err)
	}
	s.SetConnectionCallback(handler.OnConnection)
	s.SetMessageCallback(handler.OnMessage)

	s.RunEvery(time.Second*20, func() {
		log.Info("connections :", atomic.LoadInt64(&handler.connectTimes))
	})

	s.Start()
	loop.Run()
}
