package main

import (
	"context"
	"flag"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/studentsync/discovery"
	"github.com/bobg/studentsync/engine"
	"github.com/bobg/studentsync/metrics"
	"github.com/bobg/studentsync/pool"
	"github.com/bobg/studentsync/rpc"
	"github.com/bobg/studentsync/session"
)

func (c maincmd) serve(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		addr        = fs.String("addr", c.conf.Addr, "TCP listen address")
		rpcAddr     = fs.String("rpc", c.conf.RPCAddr, "gRPC listen address (empty for none)")
		metricsAddr = fs.String("metrics", c.conf.MetricsAddr, "Prometheus listen address (empty for none)")
		noBroadcast = fs.Bool("no-broadcast", !c.conf.Broadcast.Enabled, "do not announce this server by multicast")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	poolConf := c.conf.PoolConfig()
	poolConf["logger"] = c.logger
	typ, _ := poolConf["type"].(string)
	p, err := pool.Create(ctx, typ, poolConf)
	if err != nil {
		return errors.Wrapf(err, "creating %s-type pool", typ)
	}

	e := engine.New(p,
		engine.WithLogger(c.logger),
		engine.WithErrorReplies(c.conf.ErrorReplies),
	)

	var b *discovery.Broadcaster
	if !*noBroadcast {
		bc := c.conf.Broadcast
		sender, err := discovery.NewMulticastSender(bc.Group, bc.Port, bc.TTL)
		if err != nil {
			return errors.Wrap(err, "creating announcement sender")
		}
		defer sender.Close()

		b = discovery.NewBroadcaster(
			discovery.InterfaceAddrs{IPv6: bc.IPv6},
			sender,
			discovery.WithInterval(bc.Interval),
			discovery.WithLogger(c.logger),
		)
	}

	g, ctx := errgroup.WithContext(ctx)

	srv := session.NewServer(e,
		session.WithLogger(c.logger),
		session.WithMaxConns(c.conf.MaxConns),
		session.WithMaxMessageSize(c.conf.MaxMessageSize),
		session.WithIdleTimeout(c.conf.IdleTimeout),
		session.WithForgetOnDisconnect(c.conf.ForgetOnDisconnect),
	)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, *addr)
	})

	if *rpcAddr != "" {
		g.Go(func() error {
			return rpc.ListenAndServe(ctx, *rpcAddr, e, c.logger, rpc.WithMaxMessageSize(c.conf.MaxMessageSize))
		})
	}

	if *metricsAddr != "" {
		c.logger.Info("serving metrics", zap.String("addr", *metricsAddr))
		g.Go(func() error {
			return metrics.Serve(ctx, *metricsAddr)
		})
	}

	if b != nil {
		g.Go(func() error {
			return b.Run(ctx)
		})
	}

	return g.Wait()
}
