package engine_test

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"

	"github.com/google/caliban-sub000/pkg/history/engine"
	"github.com/google/caliban-sub000/pkg/history/memstore"
	"github.com/google/caliban-sub000/pkg/history/nullstore"
	"github.com/google/caliban-sub000/pkg/utils/try"
)

func TestOpen_SchemeDispatch(t *testing.T) {
	ctx := context.Background()
	logger := log.New(new(bytes.Buffer), "", log.LstdFlags)

	t.Run("mem:// opens the memory backend", func(t *testing.T) {
		store := try.To(engine.Open(ctx, "mem://", logger)).OrFatal(t)
		defer store.Close()
		if _, ok := store.(*memstore.Store); !ok {
			t.Errorf("got %T", store)
		}
	})

	t.Run("null:// opens the null backend", func(t *testing.T) {
		store := try.To(engine.Open(ctx, "null://", logger)).OrFatal(t)
		defer store.Close()
		if _, ok := store.(*nullstore.Store); !ok {
			t.Errorf("got %T", store)
		}
	})

	t.Run("empty url means the null backend", func(t *testing.T) {
		store := try.To(engine.Open(ctx, "", logger)).OrFatal(t)
		defer store.Close()
		if _, ok := store.(*nullstore.Store); !ok {
			t.Errorf("got %T", store)
		}
	})

	t.Run("unknown schemes are rejected", func(t *testing.T) {
		if _, err := engine.Open(ctx, "redis://localhost", logger); err == nil {
			t.Error("expected an error")
		}
	})
}

func TestOpenWithFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("a healthy preferred backend wins", func(t *testing.T) {
		logbuf := new(bytes.Buffer)
		logger := log.New(logbuf, "", log.LstdFlags)

		store := try.To(engine.OpenWithFallback(
			ctx, engine.Config{URL: "mem://"}, logger,
		)).OrFatal(t)
		defer store.Close()

		if _, ok := store.(*memstore.Store); !ok {
			t.Errorf("got %T", store)
		}
		if strings.Contains(logbuf.String(), "falling back") {
			t.Error("no fallback should be logged")
		}
	})

	t.Run("sqlite tier is tried after the preferred backend", func(t *testing.T) {
		logbuf := new(bytes.Buffer)
		logger := log.New(logbuf, "", log.LstdFlags)

		store := try.To(engine.OpenWithFallback(
			ctx,
			engine.Config{
				URL:          "bogus://nowhere",
				FallbackPath: t.TempDir() + "/history.db",
			},
			logger,
		)).OrFatal(t)
		defer store.Close()

		if _, ok := store.(*memstore.Store); ok {
			t.Error("should have stopped at the sqlite tier")
		}
		if !strings.Contains(logbuf.String(), "falling back") {
			t.Error("the step down should be logged")
		}
	})

	t.Run("memory is the tier of last resort", func(t *testing.T) {
		logbuf := new(bytes.Buffer)
		logger := log.New(logbuf, "", log.LstdFlags)

		store := try.To(engine.OpenWithFallback(
			ctx, engine.Config{URL: "bogus://nowhere"}, logger,
		)).OrFatal(t)
		defer store.Close()

		if _, ok := store.(*memstore.Store); !ok {
			t.Errorf("got %T", store)
		}
		if !strings.Contains(logbuf.String(), "in-memory history store") {
			t.Error("the degraded session should be logged")
		}
	})
}
