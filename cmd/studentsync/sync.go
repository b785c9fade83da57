package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/bobg/studentsync/client"
	"github.com/bobg/studentsync/discovery"
	"github.com/bobg/studentsync/rpc"
	"github.com/bobg/studentsync/session"
)

func (c maincmd) sync(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		dir     = fs.String("dir", ".", "directory to synchronize")
		addr    = fs.String("addr", "", "server TCP address (default: discover by multicast)")
		rpcAddr = fs.String("rpc", "", "server gRPC address, used instead of TCP")
		id      = fs.String("id", "", "client identity sent over gRPC (default: network address)")
		timeout = fs.Duration("timeout", time.Minute, "overall time limit")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	var x client.Exchanger

	if *rpcAddr != "" {
		rc, cc, err := rpc.Dial(*rpcAddr, *id, rpc.WithMaxMessageSize(c.conf.MaxMessageSize))
		if err != nil {
			return err
		}
		defer cc.Close()
		x = rc
	} else {
		serverAddr := *addr
		if serverAddr == "" {
			var err error
			serverAddr, err = c.discoverServer(ctx)
			if err != nil {
				return err
			}
		}
		sc, err := session.Dial(ctx, serverAddr, session.WithMaxReplySize(c.conf.MaxMessageSize))
		if err != nil {
			return err
		}
		defer sc.Close()
		x = sc
	}

	d := &client.Dir{FS: afero.NewOsFs(), Root: *dir, Logger: c.logger}
	res, err := d.Sync(ctx, client.New(x))
	if err != nil {
		return errors.Wrapf(err, "synchronizing %s", *dir)
	}

	fmt.Printf("pushed %d, pulled %d\n", len(res.Pushed), len(res.Pulled))
	return nil
}

// discoverServer waits for an announcement and returns the session address
// of the first host in it.
func (c maincmd) discoverServer(ctx context.Context) (string, error) {
	_, port, err := net.SplitHostPort(c.conf.Addr)
	if err != nil {
		return "", errors.Wrapf(err, "parsing addr %s", c.conf.Addr)
	}

	c.logger.Info("waiting for server announcement",
		zap.String("group", c.conf.Broadcast.Group),
		zap.Int("port", c.conf.Broadcast.Port),
	)
	a, err := discovery.Discover(ctx, c.conf.Broadcast.Group, c.conf.Broadcast.Port)
	if err != nil {
		return "", errors.Wrap(err, "discovering server")
	}
	addr := net.JoinHostPort(a.Addrs[0], port)
	c.logger.Info("discovered server", zap.String("from", a.From), zap.String("addr", addr))
	return addr, nil
}
