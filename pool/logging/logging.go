// Package logging implements a pool that delegates everything to a nested pool,
// logging operations as they happen.
package logging

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bobg/studentsync"
	"github.com/bobg/studentsync/pool"
)

var _ studentsync.Pool = &Pool{}

// Pool wraps a studentsync.Pool and logs each call at debug level
// (errors at warn level).
type Pool struct {
	p      studentsync.Pool
	logger *zap.Logger
}

// New produces a Pool delegating to p.
func New(p studentsync.Pool, logger *zap.Logger) *Pool {
	return &Pool{p: p, logger: logger.Named("pool")}
}

func (p *Pool) Report(ctx context.Context, client studentsync.ClientID, names []string) ([]string, error) {
	missing, err := p.p.Report(ctx, client, names)
	if err != nil {
		p.logger.Warn("report failed", zap.String("client", string(client)), zap.Error(err))
	} else {
		p.logger.Debug("report",
			zap.String("client", string(client)),
			zap.Int("names", len(names)),
			zap.Strings("missing", missing),
		)
	}
	return missing, err
}

func (p *Pool) Merge(ctx context.Context, records []studentsync.FileRecord) error {
	err := p.p.Merge(ctx, records)
	if err != nil {
		p.logger.Warn("merge failed", zap.Int("records", len(records)), zap.Error(err))
		return err
	}
	for _, rec := range records {
		p.logger.Debug("merge", zap.String("name", rec.Name), zap.Int("size", len(rec.Content)))
	}
	return nil
}

func (p *Pool) Wanted(ctx context.Context, client studentsync.ClientID) ([]studentsync.FileRecord, error) {
	wanted, err := p.p.Wanted(ctx, client)
	if err != nil {
		p.logger.Warn("wanted failed", zap.String("client", string(client)), zap.Error(err))
	} else {
		p.logger.Debug("wanted", zap.String("client", string(client)), zap.Int("records", len(wanted)))
	}
	return wanted, err
}

func (p *Pool) Forget(ctx context.Context, client studentsync.ClientID) error {
	err := p.p.Forget(ctx, client)
	if err != nil {
		p.logger.Warn("forget failed", zap.String("client", string(client)), zap.Error(err))
	} else {
		p.logger.Debug("forget", zap.String("client", string(client)))
	}
	return err
}

func (p *Pool) Get(ctx context.Context, name string) (studentsync.FileRecord, error) {
	rec, err := p.p.Get(ctx, name)
	if err != nil {
		p.logger.Debug("get failed", zap.String("name", name), zap.Error(err))
	} else {
		p.logger.Debug("get", zap.String("name", name), zap.Int("size", len(rec.Content)))
	}
	return rec, err
}

func (p *Pool) ListNames(ctx context.Context, start string, f func(string) error) error {
	p.logger.Debug("list names", zap.String("start", start))
	return p.p.ListNames(ctx, start, func(name string) error {
		err := f(name)
		if err != nil {
			p.logger.Debug("list names callback failed", zap.String("name", name), zap.Error(err))
		}
		return err
	})
}

func init() {
	pool.Register("logging", func(ctx context.Context, conf map[string]interface{}) (studentsync.Pool, error) {
		nested, ok := conf["nested"].(map[string]interface{})
		if !ok {
			return nil, errors.New(`missing "nested" parameter`)
		}
		nestedType, ok := nested["type"].(string)
		if !ok {
			return nil, errors.New(`"nested" parameter missing "type"`)
		}
		nestedPool, err := pool.Create(ctx, nestedType, nested)
		if err != nil {
			return nil, errors.Wrap(err, "creating nested pool")
		}
		logger, ok := conf["logger"].(*zap.Logger)
		if !ok {
			logger = zap.L()
		}
		return New(nestedPool, logger), nil
	})
}
