package repository

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/fingerprint-match/internal/matcher"
)

func newRedisSource(t *testing.T, logger *zap.Logger) (*RedisCandidateSource, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCandidateSource(client, "", logger), mr
}

func collect(t *testing.T, source matcher.Source) []matcher.Candidate {
	t.Helper()
	var got []matcher.Candidate
	if err := source.Each(context.Background(), func(c matcher.Candidate) error {
		got = append(got, c)
		return nil
	}); err != nil {
		t.Fatalf("each: %v", err)
	}
	return got
}

func TestRedisSourceVisitsEveryHashUnderThePrefix(t *testing.T) {
	source, mr := newRedisSource(t, zap.NewNop())
	mr.HSet("citizen:a", "name", "Ann", "passportId", "N1", "fingerprint_image", "YQ==")
	mr.HSet("citizen:b", "name", "Ben", "fingerprint_image", "Yg==")
	mr.HSet("person:c", "name", "Cy", "fingerprint_image", "Yw==")

	got := collect(t, source)
	ids := make([]string, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b"}) && !reflect.DeepEqual(ids, []string{"b", "a"}) {
		t.Fatalf("expected a and b once each, got %v", ids)
	}
	for _, c := range got {
		if c.ID == "a" && (c.Name != "Ann" || c.PassportID != "N1" || c.Fingerprint != "YQ==") {
			t.Fatalf("unexpected record: %+v", c)
		}
	}
}

func TestRedisSourceSkipsKeysThatAreNotHashes(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	source, mr := newRedisSource(t, zap.New(core))
	mr.HSet("citizen:a", "name", "Ann", "fingerprint_image", "YQ==")
	if err := mr.Set("citizen:legacy", "not a hash"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := mr.Lpush("citizen:queue", "x"); err != nil {
		t.Fatalf("lpush: %v", err)
	}

	got := collect(t, source)
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("expected only the hash record, got %+v", got)
	}
	if n := logs.FilterMessage("skipping non-hash candidate key").Len(); n != 2 {
		t.Fatalf("expected two skipped keys to be logged, got %d", n)
	}
}

func TestRedisSourceSkipsKeysDeletedDuringTheScan(t *testing.T) {
	source, mr := newRedisSource(t, zap.NewNop())
	mr.HSet("citizen:a", "name", "Ann", "fingerprint_image", "YQ==")
	mr.HSet("citizen:b", "name", "Ben", "fingerprint_image", "Yg==")

	var got []string
	err := source.Each(context.Background(), func(c matcher.Candidate) error {
		got = append(got, c.ID)
		// Whichever record comes first removes the other one.
		if c.ID == "a" {
			mr.Del("citizen:b")
		} else {
			mr.Del("citizen:a")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("each: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected the deleted record to be skipped, got %v", got)
	}
}

func TestRedisSourceStopsWhenCallbackFails(t *testing.T) {
	source, mr := newRedisSource(t, zap.NewNop())
	mr.HSet("citizen:a", "fingerprint_image", "YQ==")
	mr.HSet("citizen:b", "fingerprint_image", "Yg==")

	stop := errors.New("stop")
	calls := 0
	err := source.Each(context.Background(), func(matcher.Candidate) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one callback, got %d", calls)
	}
}

func TestRedisSourcePing(t *testing.T) {
	source, mr := newRedisSource(t, zap.NewNop())
	if err := source.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	mr.Close()
	if err := source.Ping(context.Background()); err == nil {
		t.Fatal("expected ping to fail once redis is gone")
	}
}
