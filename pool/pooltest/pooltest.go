// Package pooltest holds tests that any studentsync.Pool implementation should pass.
package pooltest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/bobg/studentsync"
)

// Scenario runs two clients through a report/push/report/pull exchange
// against an initially empty pool.
func Scenario(ctx context.Context, t *testing.T, p studentsync.Pool) {
	const a, b = studentsync.ClientID("client-a"), studentsync.ClientID("client-b")

	missing, err := p.Report(ctx, a, []string{"x", "y"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"x", "y"}, missing); diff != "" {
		t.Errorf("client A missing mismatch (-want +got):\n%s", diff)
	}

	x := studentsync.FileRecord{Name: "x", Content: []byte("data-x")}
	y := studentsync.FileRecord{Name: "y", Content: []byte("data-y")}
	if err = p.Merge(ctx, []studentsync.FileRecord{x, y}); err != nil {
		t.Fatal(err)
	}

	missing, err = p.Report(ctx, b, []string{"x"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{}, missing, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("client B missing mismatch (-want +got):\n%s", diff)
	}

	wanted, err := p.Wanted(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]studentsync.FileRecord{y}, wanted); diff != "" {
		t.Errorf("client B wanted mismatch (-want +got):\n%s", diff)
	}

	wanted, err = p.Wanted(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]studentsync.FileRecord{}, wanted, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("client A wanted mismatch (-want +got):\n%s", diff)
	}

	var names []string
	err = p.ListNames(ctx, "", func(name string) error {
		names = append(names, name)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"x", "y"}, names); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}

// LastWriteWins checks that a later record replaces an earlier one of the same name,
// and that the pool does not alias the caller's content.
func LastWriteWins(ctx context.Context, t *testing.T, p studentsync.Pool) {
	content := []byte("first")
	if err := p.Merge(ctx, []studentsync.FileRecord{{Name: "f", Content: content}}); err != nil {
		t.Fatal(err)
	}
	content[0] = 'F'

	got, err := p.Get(ctx, "f")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Content) != "first" {
		t.Errorf("got %q, want %q", got.Content, "first")
	}

	if err = p.Merge(ctx, []studentsync.FileRecord{{Name: "f", Content: []byte("second")}}); err != nil {
		t.Fatal(err)
	}
	got, err = p.Get(ctx, "f")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Content) != "second" {
		t.Errorf("got %q, want %q", got.Content, "second")
	}

	_, err = p.Get(ctx, "nonesuch")
	if !errors.Is(err, studentsync.ErrNotFound) {
		t.Errorf("got error %v, want ErrNotFound", err)
	}
}

// Knowledge checks the handling of client reports:
// replacement on each report,
// unknown clients,
// and forgetting.
func Knowledge(ctx context.Context, t *testing.T, p studentsync.Pool) {
	const c = studentsync.ClientID("knowledge-client")

	_, err := p.Wanted(ctx, c)
	if !errors.Is(err, studentsync.ErrUnknownClient) {
		t.Fatalf("got error %v, want ErrUnknownClient", err)
	}

	recs := []studentsync.FileRecord{
		{Name: "k1", Content: []byte("1")},
		{Name: "k2", Content: []byte("2")},
		{Name: "k3", Content: []byte("3")},
	}
	if err = p.Merge(ctx, recs); err != nil {
		t.Fatal(err)
	}

	if _, err = p.Report(ctx, c, []string{"k1", "k2"}); err != nil {
		t.Fatal(err)
	}
	if _, err = p.Report(ctx, c, []string{"k3"}); err != nil {
		t.Fatal(err)
	}

	wanted, err := p.Wanted(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(recs[:2], wanted); diff != "" {
		t.Errorf("wanted after second report mismatch (-want +got):\n%s", diff)
	}

	if err = p.Forget(ctx, c); err != nil {
		t.Fatal(err)
	}
	_, err = p.Wanted(ctx, c)
	if !errors.Is(err, studentsync.ErrUnknownClient) {
		t.Errorf("got error %v after Forget, want ErrUnknownClient", err)
	}
	if err = p.Forget(ctx, c); err != nil {
		t.Errorf("forgetting an unknown client: %s", err)
	}
}

// Concurrent has n clients report and push disjoint files at the same time,
// then checks that every file arrived.
// Run it with -race.
func Concurrent(ctx context.Context, t *testing.T, p studentsync.Pool, n int) {
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()

			var (
				client = studentsync.ClientID(fmt.Sprintf("concurrent-%d", i))
				name   = fmt.Sprintf("file-%d", i)
			)
			missing, err := p.Report(ctx, client, []string{name})
			if err != nil {
				errs <- err
				return
			}
			if len(missing) != 1 || missing[0] != name {
				errs <- fmt.Errorf("client %d: got missing %v, want [%s]", i, missing, name)
				return
			}
			err = p.Merge(ctx, []studentsync.FileRecord{{Name: name, Content: []byte(name)}})
			if err != nil {
				errs <- err
				return
			}
			if _, err = p.Wanted(ctx, client); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}

	for i := 0; i < n; i++ {
		name := fmt.Sprintf("file-%d", i)
		rec, err := p.Get(ctx, name)
		if err != nil {
			t.Errorf("getting %s: %s", name, err)
			continue
		}
		if string(rec.Content) != name {
			t.Errorf("got content %q for %s, want %q", rec.Content, name, name)
		}
	}
}
