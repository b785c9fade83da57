package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/studentsync/discovery"
)

func (c maincmd) discover(ctx context.Context, fs *flag.FlagSet, args []string) error {
	once := fs.Bool("once", false, "exit after the first announcement")
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	bc := c.conf.Broadcast

	if *once {
		a, err := discovery.Discover(ctx, bc.Group, bc.Port)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", a.From, strings.Join(a.Addrs, " "))
		return nil
	}

	return discovery.Listen(ctx, bc.Group, bc.Port, func(a discovery.Announcement) error {
		fmt.Printf("%s: %s\n", a.From, strings.Join(a.Addrs, " "))
		return nil
	})
}
