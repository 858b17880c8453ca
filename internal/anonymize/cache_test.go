package anonymize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func mintAddress(norm, fp string) string {
	return "user_" + fp + "@example.com"
}

type fakeMirror struct {
	data      map[string]string
	stored    []Mapping
	lookupErr error
}

func (f *fakeMirror) Lookup(ctx context.Context, category, normalized string) (string, bool, error) {
	if f.lookupErr != nil {
		return "", false, f.lookupErr
	}
	p, ok := f.data[category+"|"+normalized]
	return p, ok, nil
}

func (f *fakeMirror) StoreBatch(ctx context.Context, mappings []Mapping) error {
	f.stored = append(f.stored, mappings...)
	return nil
}

func (f *fakeMirror) Close() error { return nil }

func TestCacheResolve(t *testing.T) {
	t.Run("same identifier resolves identically", func(t *testing.T) {
		cache := New("test-salt", nil, zap.NewNop())

		first := cache.Resolve("address", "jane.doe@corp.com", 8, mintAddress)
		second := cache.Resolve("address", "jane.doe@corp.com", 8, mintAddress)

		if first != second {
			t.Errorf("expected identical pseudonyms, got %q and %q", first, second)
		}
	})

	t.Run("case and whitespace insensitive", func(t *testing.T) {
		cache := New("test-salt", nil, zap.NewNop())

		lower := cache.Resolve("address", "jane.doe@corp.com", 8, mintAddress)
		upper := cache.Resolve("address", "  JANE.DOE@CORP.COM ", 8, mintAddress)

		if lower != upper {
			t.Errorf("expected normalization to unify pseudonyms, got %q and %q", lower, upper)
		}
	})

	t.Run("distinct identifiers get distinct pseudonyms", func(t *testing.T) {
		cache := New("test-salt", nil, zap.NewNop())

		a := cache.Resolve("address", "alice@foo.org", 8, mintAddress)
		b := cache.Resolve("address", "bob@foo.org", 8, mintAddress)

		if a == b {
			t.Errorf("distinct identifiers resolved to the same pseudonym %q", a)
		}
	})

	t.Run("categories are independent namespaces", func(t *testing.T) {
		cache := New("test-salt", nil, zap.NewNop())

		cache.Resolve("address", "alice@foo.org", 8, mintAddress)
		cache.Resolve("titled_name", "dr. alice smith", 6, func(norm, fp string) string {
			return "[PERSON_" + fp + "]"
		})

		if got := cache.Size("address"); got != 1 {
			t.Errorf("address size = %d, want 1", got)
		}
		if got := cache.Size("titled_name"); got != 1 {
			t.Errorf("titled_name size = %d, want 1", got)
		}
	})
}

func TestCacheDistinctnessAtScale(t *testing.T) {
	cache := New("test-salt", nil, zap.NewNop())

	seen := make(map[string]string, 10000)
	for i := 0; i < 10000; i++ {
		addr := fmt.Sprintf("user%05d@corp%d.com", i, i%13)
		p := cache.Resolve("address", addr, 8, mintAddress)
		if prev, ok := seen[p]; ok {
			t.Fatalf("pseudonym %q assigned to both %q and %q", p, prev, addr)
		}
		seen[p] = addr
	}

	if got := cache.Size("address"); got != 10000 {
		t.Errorf("cache size = %d, want 10000", got)
	}
}

func TestFingerprint(t *testing.T) {
	cache := New("test-salt", nil, zap.NewNop())

	t.Run("respects width", func(t *testing.T) {
		for _, width := range []int{6, 8, 12, 64} {
			fp := cache.Fingerprint("alice@foo.org", 0, width)
			if len(fp) != width {
				t.Errorf("width %d: got %d chars", width, len(fp))
			}
		}
	})

	t.Run("hex output", func(t *testing.T) {
		fp := cache.Fingerprint("alice@foo.org", 0, 8)
		if strings.Trim(fp, "0123456789abcdef") != "" {
			t.Errorf("fingerprint %q contains non-hex characters", fp)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		a := cache.Fingerprint("alice@foo.org", 0, 8)
		b := cache.Fingerprint("alice@foo.org", 0, 8)
		if a != b {
			t.Errorf("fingerprints differ: %q vs %q", a, b)
		}
	})

	t.Run("attempt perturbs", func(t *testing.T) {
		a := cache.Fingerprint("alice@foo.org", 0, 8)
		b := cache.Fingerprint("alice@foo.org", 1, 8)
		if a == b {
			t.Errorf("attempt counter did not change fingerprint %q", a)
		}
	})

	t.Run("salt changes output", func(t *testing.T) {
		other := New("other-salt", nil, zap.NewNop())
		a := cache.Fingerprint("alice@foo.org", 0, 8)
		b := other.Fingerprint("alice@foo.org", 0, 8)
		if a == b {
			t.Errorf("different salts produced the same fingerprint %q", a)
		}
	})
}

func TestCacheMirror(t *testing.T) {
	t.Run("mirror hit wins over minting", func(t *testing.T) {
		mirror := &fakeMirror{data: map[string]string{
			"address|alice@foo.org": "user_cafecafe@example.com",
		}}
		cache := New("test-salt", mirror, zap.NewNop())

		got := cache.Resolve("address", "Alice@foo.org", 8, mintAddress)
		if got != "user_cafecafe@example.com" {
			t.Errorf("Resolve = %q, want mirrored pseudonym", got)
		}
	})

	t.Run("flush stores only minted mappings", func(t *testing.T) {
		mirror := &fakeMirror{data: map[string]string{
			"address|alice@foo.org": "user_cafecafe@example.com",
		}}
		cache := New("test-salt", mirror, zap.NewNop())

		cache.Resolve("address", "alice@foo.org", 8, mintAddress) // mirrored
		cache.Resolve("address", "bob@foo.org", 8, mintAddress)   // minted

		if err := cache.Flush(context.Background()); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}
		if len(mirror.stored) != 1 {
			t.Fatalf("stored %d mappings, want 1", len(mirror.stored))
		}
		if mirror.stored[0].Normalized != "bob@foo.org" {
			t.Errorf("stored %q, want bob@foo.org", mirror.stored[0].Normalized)
		}

		// Second flush has nothing new.
		if err := cache.Flush(context.Background()); err != nil {
			t.Fatalf("second Flush failed: %v", err)
		}
		if len(mirror.stored) != 1 {
			t.Errorf("second flush re-stored mappings: %d total", len(mirror.stored))
		}
	})

	t.Run("lookup error degrades to minting", func(t *testing.T) {
		mirror := &fakeMirror{lookupErr: errors.New("connection refused")}
		cache := New("test-salt", mirror, zap.NewNop())

		got := cache.Resolve("address", "alice@foo.org", 8, mintAddress)
		if got == "" {
			t.Error("Resolve returned empty pseudonym on mirror failure")
		}
		again := cache.Resolve("address", "alice@foo.org", 8, mintAddress)
		if got != again {
			t.Errorf("pseudonym unstable across mirror failures: %q vs %q", got, again)
		}
	})
}

func TestCacheStats(t *testing.T) {
	cache := New("test-salt", nil, zap.NewNop())

	cache.Resolve("address", "alice@foo.org", 8, mintAddress)
	cache.Resolve("address", "bob@foo.org", 8, mintAddress)
	cache.Resolve("address", "ALICE@foo.org", 8, mintAddress)

	stats := cache.Stats()
	if stats["address"] != 2 {
		t.Errorf("address stat = %d, want 2", stats["address"])
	}
}

func BenchmarkResolve(b *testing.B) {
	cache := New("bench-salt", nil, zap.NewNop())

	b.Run("repeat identifier", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			cache.Resolve("address", "alice@foo.org", 8, mintAddress)
		}
	})

	b.Run("unique identifiers", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			cache.Resolve("address", fmt.Sprintf("user%d@foo.org", i), 8, mintAddress)
		}
	})
}
