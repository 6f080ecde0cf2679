package events

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	funneldomain "github.com/lazylord/backend/internal/app/domain/funnel"
	ledgerdomain "github.com/lazylord/backend/internal/app/domain/ledger"
	referraldomain "github.com/lazylord/backend/internal/app/domain/referral"
	funnelsvc "github.com/lazylord/backend/internal/app/services/funnel"
	identitysvc "github.com/lazylord/backend/internal/app/services/identity"
	ledgersvc "github.com/lazylord/backend/internal/app/services/ledger"
	referralssvc "github.com/lazylord/backend/internal/app/services/referrals"
	"github.com/lazylord/backend/internal/app/storage/memory"
)

func newProcessor(t *testing.T, verify VerifyFunc) (*Processor, *memory.Store) {
	t.Helper()
	store := memory.New()
	chain, err := funneldomain.NewChain(funneldomain.DefaultSteps())
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	ledger := ledgersvc.New(store, nil)
	referrals := referralssvc.New(store, store, nil)
	funnel := funnelsvc.New(chain, store, store, ledger, nil)
	identity := identitysvc.New(store, ledger, referrals, funnel, nil)
	return New(identity, ledger, referrals, funnel, verify, nil), store
}

func register(t *testing.T, p *Processor, userID, referrerID string) {
	t.Helper()
	if _, err := p.Register(context.Background(), userID, referrerID, userID+"@example.com"); err != nil {
		t.Fatalf("register %s: %v", userID, err)
	}
}

func TestWebhookTokenPackCredits(t *testing.T) {
	p, store := newProcessor(t, InsecureAllowAll())
	register(t, p, "u1", "")

	ack, err := p.ProcessWebhook(context.Background(), "u1", "prod_10000", []byte(`{}`), "")
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if ack.TokensCredited != 10000 {
		t.Fatalf("expected 10000 credited, got %d", ack.TokensCredited)
	}

	entry, err := store.GetEntry(context.Background(), "u1")
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if entry.Balance != ledgerdomain.StartingBalance+10000 {
		t.Fatalf("expected balance %d, got %d", ledgerdomain.StartingBalance+10000, entry.Balance)
	}
}

func TestWebhookSubscriptionPaysTwoLevels(t *testing.T) {
	p, store := newProcessor(t, InsecureAllowAll())
	register(t, p, "u1", "")
	register(t, p, "u2", "u1")
	register(t, p, "u3", "u2")

	ack, err := p.ProcessWebhook(context.Background(), "u3", SubscriptionProduct, []byte(`{}`), "")
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if ack.CommissionLevels != 2 {
		t.Fatalf("expected 2 commission levels, got %d", ack.CommissionLevels)
	}

	for _, id := range []string{"u1", "u2"} {
		u, _ := store.GetUser(context.Background(), id)
		if u.Earned != referraldomain.CommissionPerLevel {
			t.Fatalf("%s earned %d, want %d", id, u.Earned, referraldomain.CommissionPerLevel)
		}
	}
}

func TestWebhookSubscriptionShortChain(t *testing.T) {
	p, store := newProcessor(t, InsecureAllowAll())
	register(t, p, "u1", "")
	register(t, p, "u2", "u1")

	ack, err := p.ProcessWebhook(context.Background(), "u2", SubscriptionProduct, []byte(`{}`), "")
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if ack.CommissionLevels != 1 {
		t.Fatalf("expected 1 commission level, got %d", ack.CommissionLevels)
	}

	u1, _ := store.GetUser(context.Background(), "u1")
	if u1.Earned != referraldomain.CommissionPerLevel {
		t.Fatalf("u1 earned %d, want %d", u1.Earned, referraldomain.CommissionPerLevel)
	}
}

func TestWebhookSubscriptionUnknownSubscriber(t *testing.T) {
	p, store := newProcessor(t, InsecureAllowAll())
	register(t, p, "u1", "")
	register(t, p, "u2", "u1")

	ack, err := p.ProcessWebhook(context.Background(), "ghost", SubscriptionProduct, []byte(`{}`), "")
	if err != nil {
		t.Fatalf("unknown subscriber must be acknowledged: %v", err)
	}
	if ack.CommissionLevels != 0 {
		t.Fatalf("expected zero commission levels, got %d", ack.CommissionLevels)
	}

	for _, id := range []string{"u1", "u2"} {
		u, _ := store.GetUser(context.Background(), id)
		if u.Earned != 0 {
			t.Fatalf("%s earned %d from an unknown subscriber", id, u.Earned)
		}
	}
}

func TestWebhookInvalidSignatureChangesNothing(t *testing.T) {
	p, store := newProcessor(t, HMACVerifier("topsecret"))
	register(t, p, "u1", "")

	_, err := p.ProcessWebhook(context.Background(), "u1", "prod_1000", []byte(`{}`), "deadbeef")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	entry, _ := store.GetEntry(context.Background(), "u1")
	if entry.Balance != ledgerdomain.StartingBalance {
		t.Fatalf("balance mutated by rejected webhook: %d", entry.Balance)
	}
}

func TestWebhookValidSignatureAccepted(t *testing.T) {
	p, _ := newProcessor(t, HMACVerifier("topsecret"))
	register(t, p, "u1", "")

	payload := []byte(`{"event":"purchase"}`)
	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(payload)
	signature := hex.EncodeToString(mac.Sum(nil))

	ack, err := p.ProcessWebhook(context.Background(), "u1", "prod_1000", payload, signature)
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if ack.TokensCredited != 1000 {
		t.Fatalf("expected 1000 credited, got %d", ack.TokensCredited)
	}
}

func TestWebhookUnrecognizedProduct(t *testing.T) {
	p, store := newProcessor(t, InsecureAllowAll())
	register(t, p, "u1", "")

	_, err := p.ProcessWebhook(context.Background(), "u1", "prod_777", []byte(`{}`), "")
	if !errors.Is(err, ErrUnrecognizedProduct) {
		t.Fatalf("expected ErrUnrecognizedProduct, got %v", err)
	}

	entry, _ := store.GetEntry(context.Background(), "u1")
	if entry.Balance != ledgerdomain.StartingBalance {
		t.Fatalf("balance mutated by unrecognized product: %d", entry.Balance)
	}
}

func TestNilVerifierFailsClosed(t *testing.T) {
	p, _ := newProcessor(t, nil)
	register(t, p, "u1", "")

	_, err := p.ProcessWebhook(context.Background(), "u1", "prod_1000", []byte(`{}`), "")
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestWithTokenPacksOverridesCatalogue(t *testing.T) {
	p, store := newProcessor(t, InsecureAllowAll())
	p.WithTokenPacks(map[string]int64{"prod_tiny": 5})
	register(t, p, "u1", "")

	if _, err := p.ProcessWebhook(context.Background(), "u1", "prod_1000", []byte(`{}`), ""); !errors.Is(err, ErrUnrecognizedProduct) {
		t.Fatalf("default pack should be gone, got %v", err)
	}

	ack, err := p.ProcessWebhook(context.Background(), "u1", "prod_tiny", []byte(`{}`), "")
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if ack.TokensCredited != 5 {
		t.Fatalf("expected 5 credited, got %d", ack.TokensCredited)
	}

	entry, _ := store.GetEntry(context.Background(), "u1")
	if entry.Balance != ledgerdomain.StartingBalance+5 {
		t.Fatalf("expected balance %d, got %d", ledgerdomain.StartingBalance+5, entry.Balance)
	}
}

func TestSpendTokens(t *testing.T) {
	p, _ := newProcessor(t, InsecureAllowAll())
	register(t, p, "u1", "")

	remaining, err := p.SpendTokens(context.Background(), "u1", 300)
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if remaining != ledgerdomain.StartingBalance-300 {
		t.Fatalf("expected %d remaining, got %d", ledgerdomain.StartingBalance-300, remaining)
	}

	if _, err := p.SpendTokens(context.Background(), "u1", 10000); !errors.Is(err, ledgersvc.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestGetUserStatus(t *testing.T) {
	p, _ := newProcessor(t, InsecureAllowAll())
	register(t, p, "u1", "")
	register(t, p, "u2", "u1")

	if _, err := p.AdvanceFunnel(context.Background(), "u1", "start"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := p.ProcessWebhook(context.Background(), "u2", SubscriptionProduct, []byte(`{}`), ""); err != nil {
		t.Fatalf("webhook: %v", err)
	}

	status, err := p.GetUserStatus(context.Background(), "u1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Balance != ledgerdomain.StartingBalance+ledgerdomain.ReferralBonus {
		t.Fatalf("expected balance %d, got %d", ledgerdomain.StartingBalance+ledgerdomain.ReferralBonus, status.Balance)
	}
	if status.Earned != referraldomain.CommissionPerLevel {
		t.Fatalf("expected earned %d, got %d", referraldomain.CommissionPerLevel, status.Earned)
	}
	if status.RecruitCount != 1 {
		t.Fatalf("expected 1 recruit, got %d", status.RecruitCount)
	}
	if status.CurrentStep != "step1" {
		t.Fatalf("expected cursor at step1, got %q", status.CurrentStep)
	}
	if len(status.CompletedSteps) != 1 || status.CompletedSteps[0] != "start" {
		t.Fatalf("expected completed [start], got %v", status.CompletedSteps)
	}
}

func TestHMACVerifierRejectsNonHex(t *testing.T) {
	verify := HMACVerifier("secret")
	if verify([]byte("payload"), "not hex!") {
		t.Fatal("non-hex signature must be rejected")
	}
	if verify([]byte("payload"), "") {
		t.Fatal("empty signature must be rejected")
	}
}
