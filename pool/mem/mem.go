// Package mem implements an in-memory studentsync pool.
package mem

import (
	"context"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/bobg/studentsync"
	"github.com/bobg/studentsync/metrics"
	"github.com/bobg/studentsync/pool"
)

// DefaultKnowledgeSize is the number of clients whose reports a Pool remembers
// when no size is configured.
const DefaultKnowledgeSize = 4096

var _ studentsync.Pool = &Pool{}

var poolFiles = metrics.NewGauge(
	"files",
	"pool",
	"Number of files in the pool",
	[]string{},
).WithLabelValues()

// Pool is a memory-based implementation of studentsync.Pool.
// A single mutex guards both the files and the client reports,
// so a pull computation always sees a consistent snapshot of the two.
//
// Client reports are held in a least-recently-used cache.
// When more clients than its capacity have reported,
// the least recently active one is forgotten
// and must report again before pulling.
type Pool struct {
	mu    sync.Mutex
	files map[string]studentsync.FileRecord
	known *lru.Cache // ClientID -> nameSet
}

type nameSet map[string]struct{}

// New produces a new Pool remembering the reports of up to knowledgeSize clients.
func New(knowledgeSize int) (*Pool, error) {
	known, err := lru.New(knowledgeSize)
	if err != nil {
		return nil, errors.Wrapf(err, "creating client-knowledge cache of size %d", knowledgeSize)
	}
	return &Pool{
		files: make(map[string]studentsync.FileRecord),
		known: known,
	}, nil
}

// Report implements studentsync.Pool.Report.
func (p *Pool) Report(_ context.Context, client studentsync.ClientID, names []string) ([]string, error) {
	set := make(nameSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.known.Add(client, set)

	missing := []string{}
	for _, name := range names {
		if _, ok := p.files[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// Merge implements studentsync.Pool.Merge.
func (p *Pool) Merge(_ context.Context, records []studentsync.FileRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, rec := range records {
		p.files[rec.Name] = rec.Clone()
	}
	poolFiles.Set(float64(len(p.files)))
	return nil
}

// Wanted implements studentsync.Pool.Wanted.
func (p *Pool) Wanted(_ context.Context, client studentsync.ClientID) ([]studentsync.FileRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.known.Get(client)
	if !ok {
		return nil, errors.Wrapf(studentsync.ErrUnknownClient, "client %s", client)
	}
	has := v.(nameSet)

	wanted := []studentsync.FileRecord{}
	for name, rec := range p.files {
		if _, ok := has[name]; !ok {
			wanted = append(wanted, rec.Clone())
		}
	}
	sort.Slice(wanted, func(i, j int) bool { return wanted[i].Name < wanted[j].Name })
	return wanted, nil
}

// Forget implements studentsync.Pool.Forget.
func (p *Pool) Forget(_ context.Context, client studentsync.ClientID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.known.Remove(client)
	return nil
}

// Get implements studentsync.Pool.Get.
func (p *Pool) Get(_ context.Context, name string) (studentsync.FileRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.files[name]
	if !ok {
		return studentsync.FileRecord{}, studentsync.ErrNotFound
	}
	return rec.Clone(), nil
}

// ListNames implements studentsync.Pool.ListNames.
func (p *Pool) ListNames(_ context.Context, start string, f func(string) error) error {
	p.mu.Lock()
	names := make([]string, 0, len(p.files))
	for name := range p.files {
		names = append(names, name)
	}
	p.mu.Unlock()

	sort.Strings(names)
	index := sort.Search(len(names), func(n int) bool {
		return names[n] > start
	})

	for i := index; i < len(names); i++ {
		err := f(names[i])
		if err != nil {
			return err
		}
	}
	return nil
}

// Len tells the number of files in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.files)
}

// Clients tells the number of clients whose reports are remembered.
func (p *Pool) Clients() int {
	return p.known.Len()
}

func init() {
	pool.Register("mem", func(_ context.Context, conf map[string]interface{}) (studentsync.Pool, error) {
		size, ok, err := pool.IntParam(conf, "knowledge_size")
		if err != nil {
			return nil, err
		}
		if !ok || size == 0 {
			size = DefaultKnowledgeSize
		}
		return New(size)
	})
}
