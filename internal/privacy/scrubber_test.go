package privacy

import (
	"regexp"
	"strings"
	"testing"

	"github.com/zeroinbox/mailscrub/internal/anonymize"
	"github.com/zeroinbox/mailscrub/internal/config"
	"github.com/zeroinbox/mailscrub/internal/logger"
	"go.uber.org/zap"
)

var pseudonymRe = regexp.MustCompile(`user_[0-9a-f]{8}@example\.[a-z]+`)

func newTestScrubber(t *testing.T, mutate func(*config.ScrubConfig)) *Scrubber {
	t.Helper()

	cfg := config.GetDefaults().Scrub
	if mutate != nil {
		mutate(&cfg)
	}

	log := &logger.Logger{Logger: zap.NewNop()}
	cache := anonymize.New(cfg.Salt, nil, zap.NewNop())

	s, err := NewScrubber(cfg, cache, log)
	if err != nil {
		t.Fatalf("NewScrubber failed: %v", err)
	}
	return s
}

func TestScrubContactLine(t *testing.T) {
	s := newTestScrubber(t, nil)

	in := "Contact Jane at jane.doe@corp.com or 555-123-4567, SSN 123-45-6789"
	res := s.Scrub(in)

	if strings.Contains(res.Text, "jane.doe@corp.com") {
		t.Errorf("address leaked: %q", res.Text)
	}
	if !pseudonymRe.MatchString(res.Text) {
		t.Errorf("no address pseudonym in %q", res.Text)
	}
	if !strings.Contains(res.Text, TokenPhone) {
		t.Errorf("phone not redacted: %q", res.Text)
	}
	if !strings.Contains(res.Text, TokenSSN) {
		t.Errorf("national id not redacted: %q", res.Text)
	}

	want := map[string]int{
		CategoryAddress:    1,
		CategoryPhone:      1,
		CategoryNationalID: 1,
	}
	if len(res.Counts) != len(want) {
		t.Errorf("counts = %v, want %v", res.Counts, want)
	}
	for category, n := range want {
		if res.Counts[category] != n {
			t.Errorf("counts[%s] = %d, want %d", category, res.Counts[category], n)
		}
	}
}

func TestScrubPseudonymConsistency(t *testing.T) {
	t.Run("same sender across records", func(t *testing.T) {
		s := newTestScrubber(t, nil)

		first := s.Scrub("From jane.doe@corp.com: see attached")
		second := s.Scrub("jane.doe@corp.com sent another update")

		p1 := pseudonymRe.FindString(first.Text)
		p2 := pseudonymRe.FindString(second.Text)
		if p1 == "" || p2 == "" {
			t.Fatalf("missing pseudonyms: %q / %q", first.Text, second.Text)
		}
		if p1 != p2 {
			t.Errorf("pseudonyms differ for the same sender: %q vs %q", p1, p2)
		}
	})

	t.Run("distinct senders stay distinct", func(t *testing.T) {
		s := newTestScrubber(t, nil)

		a := pseudonymRe.FindString(s.Scrub("alice@foo.org").Text)
		b := pseudonymRe.FindString(s.Scrub("bob@foo.org").Text)
		if a == b {
			t.Errorf("distinct senders share pseudonym %q", a)
		}
	})

	t.Run("top-level domain preserved", func(t *testing.T) {
		s := newTestScrubber(t, nil)

		a := pseudonymRe.FindString(s.Scrub("alice@foo.org").Text)
		b := pseudonymRe.FindString(s.Scrub("bob@foo.org").Text)
		for _, p := range []string{a, b} {
			if !strings.HasSuffix(p, ".org") {
				t.Errorf("pseudonym %q lost the .org suffix", p)
			}
		}
	})

	t.Run("fresh caches with the same salt agree", func(t *testing.T) {
		a := newTestScrubber(t, nil).Scrub("mail alice@foo.org now").Text
		b := newTestScrubber(t, nil).Scrub("mail alice@foo.org now").Text
		if a != b {
			t.Errorf("scrub output unstable across runs: %q vs %q", a, b)
		}
	})
}

func TestScrubIdempotence(t *testing.T) {
	s := newTestScrubber(t, nil)

	in := "Dr. John Smith <john.smith@enron.com> called from 555-867-5309. " +
		"Card 4111-1111-1111-1111, host 10.0.0.1, office at 1400 Smith Street. " +
		"Kenneth Lay approved. SSN 078-05-1120."

	once := s.Scrub(in)
	twice := s.Scrub(once.Text)

	if once.Text != twice.Text {
		t.Errorf("scrub not idempotent:\n once: %q\ntwice: %q", once.Text, twice.Text)
	}
	if len(twice.Counts) != 0 {
		t.Errorf("second scrub found matches: %v", twice.Counts)
	}

	t.Run("blank sender placeholder survives", func(t *testing.T) {
		res := s.Scrub("unknown@example.com")
		if res.Text != "unknown@example.com" {
			t.Errorf("placeholder rewritten to %q", res.Text)
		}
		if len(res.Counts) != 0 {
			t.Errorf("placeholder matched rules: %v", res.Counts)
		}
	})
}

func TestScrubRulePriority(t *testing.T) {
	t.Run("named entity outranks titled name", func(t *testing.T) {
		s := newTestScrubber(t, nil)

		res := s.Scrub("Please forward this to Mr. Kenneth Lay today")
		if !strings.Contains(res.Text, "Mr. "+TokenExecutive) {
			t.Errorf("expected executive redaction, got %q", res.Text)
		}
		if res.Counts[CategoryNamedEntity] != 1 {
			t.Errorf("named_entity count = %d, want 1", res.Counts[CategoryNamedEntity])
		}
		if res.Counts[CategoryTitledName] != 0 {
			t.Errorf("titled_name claimed an overlapping span: %v", res.Counts)
		}
	})

	t.Run("address outranks titled name", func(t *testing.T) {
		s := newTestScrubber(t, nil)

		res := s.Scrub("Reply to Dr. Smith@corp.com directly")
		if res.Counts[CategoryAddress] != 1 {
			t.Errorf("address count = %d, want 1 (%q)", res.Counts[CategoryAddress], res.Text)
		}
		if res.Counts[CategoryTitledName] != 0 {
			t.Errorf("titled_name matched inside the address span: %q", res.Text)
		}
	})

	t.Run("card with separators beats phone", func(t *testing.T) {
		s := newTestScrubber(t, nil)

		res := s.Scrub("charge 4111-1111-1111-1111 please")
		if !strings.Contains(res.Text, TokenCard) {
			t.Errorf("card not redacted: %q", res.Text)
		}
		if res.Counts[CategoryCreditCard] != 1 {
			t.Errorf("credit_card count = %d, want 1", res.Counts[CategoryCreditCard])
		}
	})
}

func TestScrubTitledName(t *testing.T) {
	s := newTestScrubber(t, nil)

	res := s.Scrub("Dr. Jane Doe will attend; Dr. Jane Doe confirmed.")
	if strings.Contains(res.Text, "Jane Doe") {
		t.Errorf("titled name leaked: %q", res.Text)
	}
	if res.Counts[CategoryTitledName] != 2 {
		t.Errorf("titled_name count = %d, want 2", res.Counts[CategoryTitledName])
	}

	personRe := regexp.MustCompile(`Dr\. \[PERSON_[0-9a-f]{6}\]`)
	found := personRe.FindAllString(res.Text, -1)
	if len(found) != 2 {
		t.Fatalf("expected 2 titled pseudonyms, got %v in %q", found, res.Text)
	}
	if found[0] != found[1] {
		t.Errorf("same person got different pseudonyms: %q vs %q", found[0], found[1])
	}
}

func TestScrubHeuristicRules(t *testing.T) {
	t.Run("postal code disabled by default", func(t *testing.T) {
		s := newTestScrubber(t, nil)

		res := s.Scrub("Beverly Hills 90210")
		if !strings.Contains(res.Text, "90210") {
			t.Errorf("postal code removed while disabled: %q", res.Text)
		}
	})

	t.Run("postal code redacted once enabled", func(t *testing.T) {
		s := newTestScrubber(t, nil)
		if err := s.EnableRule(CategoryPostalCode); err != nil {
			t.Fatalf("EnableRule failed: %v", err)
		}

		res := s.Scrub("Beverly Hills 90210")
		if !strings.Contains(res.Text, TokenZip) {
			t.Errorf("postal code not redacted: %q", res.Text)
		}
	})

	t.Run("network address enabled by default", func(t *testing.T) {
		s := newTestScrubber(t, nil)

		res := s.Scrub("ssh into 192.168.1.100 tonight")
		if !strings.Contains(res.Text, TokenIP) {
			t.Errorf("network address not redacted: %q", res.Text)
		}
	})

	t.Run("unknown rule errors", func(t *testing.T) {
		s := newTestScrubber(t, nil)
		if err := s.EnableRule("telepathy"); err == nil {
			t.Error("expected error enabling unknown rule")
		}
		if err := s.DisableRule("telepathy"); err == nil {
			t.Error("expected error disabling unknown rule")
		}
	})
}

func TestScrubStreetAddress(t *testing.T) {
	s := newTestScrubber(t, nil)

	res := s.Scrub("ship it to 123 Main Street before Friday")
	if !strings.Contains(res.Text, TokenStreet) {
		t.Errorf("street address not redacted: %q", res.Text)
	}
	if res.Counts[CategoryStreet] != 1 {
		t.Errorf("street_address count = %d, want 1", res.Counts[CategoryStreet])
	}
}

func TestScrubResidualDomainSweep(t *testing.T) {
	s := newTestScrubber(t, nil)

	res := s.Scrub("legal@enron.com said ping @enron.com when done")
	if strings.Contains(strings.ToLower(res.Text), "enron.com") {
		t.Errorf("home domain leaked: %q", res.Text)
	}
}

func TestScrubCustomRule(t *testing.T) {
	s := newTestScrubber(t, func(cfg *config.ScrubConfig) {
		cfg.CustomRules = []config.CustomRule{
			{Name: "ticket", Regex: `\bTICKET-\d+\b`, Token: "[TICKET_REDACTED]"},
		}
	})

	res := s.Scrub("see TICKET-4821 for details")
	if !strings.Contains(res.Text, "[TICKET_REDACTED]") {
		t.Errorf("custom rule not applied: %q", res.Text)
	}
	if res.Counts["ticket"] != 1 {
		t.Errorf("ticket count = %d, want 1", res.Counts["ticket"])
	}
}

func TestScrubEmptyText(t *testing.T) {
	s := newTestScrubber(t, nil)

	res := s.Scrub("")
	if res.Text != "" {
		t.Errorf("empty input produced %q", res.Text)
	}
	if res.Counts == nil || len(res.Counts) != 0 {
		t.Errorf("counts = %v, want empty map", res.Counts)
	}
}

func TestDetect(t *testing.T) {
	s := newTestScrubber(t, nil)

	t.Run("dirty text", func(t *testing.T) {
		counts := s.Detect("call 555-123-4567 or mail alice@foo.org")
		if counts[CategoryPhone] != 1 || counts[CategoryAddress] != 1 {
			t.Errorf("Detect = %v", counts)
		}
	})

	t.Run("scrubbed text is clean", func(t *testing.T) {
		res := s.Scrub("call 555-123-4567 or mail alice@foo.org, SSN 078-05-1120")
		counts := s.Detect(res.Text)
		if len(counts) != 0 {
			t.Errorf("scrubbed text still detected: %v (text %q)", counts, res.Text)
		}
	})
}

func BenchmarkScrub(b *testing.B) {
	cfg := config.GetDefaults().Scrub
	log := &logger.Logger{Logger: zap.NewNop()}
	cache := anonymize.New(cfg.Salt, nil, zap.NewNop())
	s, err := NewScrubber(cfg, cache, log)
	if err != nil {
		b.Fatalf("NewScrubber failed: %v", err)
	}

	text := "Hi team, Dr. John Smith (john.smith@corp.com, 555-867-5309) moved to " +
		"1400 Smith Street. Card on file 4111-1111-1111-1111, VPN host 10.0.0.1. " +
		"Kenneth Lay must sign off before Friday."

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Scrub(text)
	}
}
