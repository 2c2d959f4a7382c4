// +build linux

package main

import (
	"flag"
	"time"

	"github.com/munetio/munet/net/buffer"
	"github.com/munetio/munet/net/eventloop"
	"github.com/munetio/munet/net/log"
	"github.com/munetio/munet/net/socket"
	"github.com/munetio/munet/net/tcpclient"
	"github.com/munetio/munet/net/tcpconnect"
)

func main() {
	var (
		ip   string
		port int
	)
	flag.StringVar(&ip, "ip", "127.0.0.1", "server ip")
	flag.IntVar(&port, "port", 58810, "server port")
	flag.Parse()

	loop, err := eventloop.New()
	if err != nil {
		panic(err)
	}

	addr, err := socket.NewInetAddr(ip, port)
	if err != nil {
		panic(err)
	}

	client := tcpclient.New(loop, "echo-client", addr)
	client.EnableRetry()
	client.SetConnectionCallback(func(c *tcpconnect.TcpConnect) {
		if c.IsConnected() {
			log.Infof("connected to %s", c.PeerAddr().IPPort())
			_ = c.SendString("hello\n")
		} else {
			log.Infof("disconnected from %s", c.PeerAddr().IPPort())
		}
	})
	client.SetMessageCallback(func(c *tcpconnect.TcpConnect, buf *buffer.Buffer, receiveTime time.Time) {
		log.Infof("echo: %q", buf.RetrieveAllString())
		loop.RunAfter(time.Second, func() {
			_ = c.SendString("hello\n")
		})
	})

	client.Connect()
	loop.Run()
}
