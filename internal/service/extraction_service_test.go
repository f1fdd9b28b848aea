package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/machlab/pricewatch/internal/extractor"
	"github.com/machlab/pricewatch/internal/models"
	"github.com/machlab/pricewatch/internal/repository"
	"github.com/machlab/pricewatch/internal/siterules"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubFetcher struct {
	body  []byte
	err   error
	calls int32
}

func (f *stubFetcher) Get(_ context.Context, _ string) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

type stubExtractor struct {
	name   string
	result *extractor.Result
	err    error
	calls  int32
}

func (s *stubExtractor) Name() string { return s.name }

func (s *stubExtractor) Extract(_ context.Context, _ *extractor.Request) (*extractor.Result, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

const stubPage = `<html><body><div class="price">$1,849.00</div></body></html>`

func newTestService(repos *repository.Repositories, fetcher Fetcher, static, dynamic, llm extractor.Extractor) *ExtractionService {
	rules, err := siterules.Load("")
	if err != nil {
		panic(err)
	}
	return NewExtractionService(repos, ExtractionConfig{
		Rules:     rules,
		Fetcher:   fetcher,
		Static:    static,
		Dynamic:   dynamic,
		LLM:       llm,
		Validator: NewValidator(0.15, 0.50),
	}, testLogger())
}

func seedMachine(t *testing.T, repo *mockMachineRepo, m *models.Machine) {
	t.Helper()
	if m.Currency == "" {
		m.Currency = "USD"
	}
	if err := repo.Create(context.Background(), m); err != nil {
		t.Fatalf("seeding machine: %v", err)
	}
}

func floatPtr(v float64) *float64 { return &v }

func TestExtractLearnedSelectorAcceptsPrice(t *testing.T) {
	repos, machines, history, _ := newMockRepos()
	seedMachine(t, machines, &models.Machine{
		ID:         "m1",
		Name:       "ComMarker B6 MOPA 60W",
		ProductURL: "https://commarker.com/products/b6-mopa",
		Price:      floatPtr(1899),
		LearnedSelectors: map[string]models.LearnedSelector{
			"commarker.com": {Selector: ".price ins .amount", Confidence: 0.95},
		},
	})

	static := &stubExtractor{name: "static", result: &extractor.Result{
		Price:      1849,
		Currency:   "USD",
		Tier:       models.TierLearned,
		Selector:   ".price ins .amount",
		Confidence: 0.95,
	}}
	svc := newTestService(repos, &stubFetcher{body: []byte(stubPage)}, static, nil, nil)

	outcome, err := svc.ExtractByID(context.Background(), "m1", "")
	if err != nil {
		t.Fatalf("ExtractByID: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("expected success, got status %s reason %q", outcome.ValidationStatus, outcome.Reason)
	}
	if outcome.RequiresApproval {
		t.Error("small change should not require approval")
	}
	if outcome.Tier != models.TierLearned {
		t.Errorf("tier = %s, want learned", outcome.Tier)
	}

	got, _ := machines.GetByID(context.Background(), "m1")
	if got.Price == nil || *got.Price != 1849 {
		t.Errorf("machine price = %v, want 1849", got.Price)
	}
	row := history.latest("m1")
	if row == nil {
		t.Fatal("no history row appended")
	}
	if row.Price == nil || *row.Price != 1849 {
		t.Errorf("history price = %v, want 1849", row.Price)
	}
	if row.ValidationStatus != models.ValidationPass {
		t.Errorf("history status = %s, want pass", row.ValidationStatus)
	}
	if row.PreviousPrice == nil || *row.PreviousPrice != 1899 {
		t.Errorf("previous price = %v, want 1899", row.PreviousPrice)
	}
}

func TestExtractLargeChangeHeldForApproval(t *testing.T) {
	repos, machines, history, _ := newMockRepos()
	seedMachine(t, machines, &models.Machine{
		ID:         "m2",
		Name:       "Thunder Nova 35",
		ProductURL: "https://thunderlaserusa.com/machines/nova-35",
		Price:      floatPtr(4589),
	})

	// 33% drop: plausible sale, but a human signs off first.
	static := &stubExtractor{name: "static", result: &extractor.Result{
		Price: 3059, Currency: "USD", Tier: models.TierSiteRule, Confidence: 0.9,
	}}
	svc := newTestService(repos, &stubFetcher{body: []byte(stubPage)}, static, nil, nil)

	outcome, err := svc.ExtractByID(context.Background(), "m2", "")
	if err != nil {
		t.Fatalf("ExtractByID: %v", err)
	}
	if outcome.ValidationStatus != models.ValidationPass {
		t.Errorf("status = %s, want pass", outcome.ValidationStatus)
	}
	if !outcome.RequiresApproval {
		t.Fatal("expected requires_approval")
	}

	got, _ := machines.GetByID(context.Background(), "m2")
	if got.Price == nil || *got.Price != 4589 {
		t.Errorf("machine price = %v, want unchanged 4589", got.Price)
	}
	row := history.latest("m2")
	if !row.RequiresApproval {
		t.Error("history row should carry requires_approval")
	}
	if row.FailureReason != string(models.ValidationChangeExceeded) {
		t.Errorf("reason = %q, want %q", row.FailureReason, models.ValidationChangeExceeded)
	}
	pending, _ := history.ListPendingApproval(context.Background(), 10, 0)
	if len(pending) != 1 {
		t.Errorf("pending approvals = %d, want 1", len(pending))
	}
}

func TestExtractDigitCorrectionSalvage(t *testing.T) {
	repos, machines, history, _ := newMockRepos()
	seedMachine(t, machines, &models.Machine{
		ID:         "m3",
		Name:       "OMTech Polar 350",
		ProductURL: "https://omtechlaser.com/products/polar-350",
		Price:      floatPtr(1599.99),
	})

	static := &stubExtractor{name: "static", result: &extractor.Result{
		Price: 160, Currency: "USD", Tier: models.TierCommonSelector, Confidence: 0.7,
	}}
	svc := newTestService(repos, &stubFetcher{body: []byte(stubPage)}, static, nil, nil)

	outcome, err := svc.ExtractByID(context.Background(), "m3", "")
	if err != nil {
		t.Fatalf("ExtractByID: %v", err)
	}
	if outcome.ValidationStatus != models.ValidationPass {
		t.Fatalf("status = %s, want pass (corrected)", outcome.ValidationStatus)
	}
	if !outcome.RequiresApproval {
		t.Error("corrected price must be held for approval")
	}
	row := history.latest("m3")
	if row.Price == nil || *row.Price != 1600 {
		t.Errorf("history price = %v, want corrected 1600", row.Price)
	}
	got, _ := machines.GetByID(context.Background(), "m3")
	if got.Price == nil || *got.Price != 1599.99 {
		t.Errorf("machine price = %v, want unchanged 1599.99", got.Price)
	}
}

func TestExtractAllTiersFailRecordsAudit(t *testing.T) {
	repos, machines, history, _ := newMockRepos()
	seedMachine(t, machines, &models.Machine{
		ID:         "m4",
		Name:       "Gweike Cloud Pro",
		ProductURL: "https://gweikecloud.com/products/pro",
		Price:      floatPtr(3999),
	})

	static := &stubExtractor{name: "static", err: extractor.NewError(extractor.CategoryParseNoPrice, "no candidates")}
	dynamic := &stubExtractor{name: "dynamic", err: extractor.NewError(extractor.CategoryDynamicNavigationFailed, "timeout waiting for load")}
	llm := &stubExtractor{name: "llm", err: extractor.NewError(extractor.CategoryLLMParseFailed, "malformed response")}
	svc := newTestService(repos, &stubFetcher{body: []byte(stubPage)}, static, dynamic, llm)

	outcome, err := svc.ExtractByID(context.Background(), "m4", "")
	if err != nil {
		t.Fatalf("ExtractByID: %v", err)
	}
	if outcome.Success {
		t.Fatal("expected failure outcome")
	}
	if outcome.Tier != models.TierLLM {
		t.Errorf("last tier = %s, want llm", outcome.Tier)
	}
	if static.calls != 1 || dynamic.calls != 1 || llm.calls != 1 {
		t.Errorf("tier calls = %d/%d/%d, want 1/1/1", static.calls, dynamic.calls, llm.calls)
	}

	row := history.latest("m4")
	if row == nil {
		t.Fatal("failed run must still append a history row")
	}
	if row.Price != nil {
		t.Errorf("history price = %v, want nil", row.Price)
	}
	if row.ValidationStatus != models.ValidationNoPrice {
		t.Errorf("status = %s, want no_price", row.ValidationStatus)
	}
	if row.FailureReason == "" {
		t.Error("failure reason missing")
	}
	got, _ := machines.GetByID(context.Background(), "m4")
	if got.Price == nil || *got.Price != 3999 {
		t.Errorf("machine price = %v, want unchanged 3999", got.Price)
	}
}

func TestExtractPermanentFetchFailureDoesNotEscalate(t *testing.T) {
	repos, machines, _, _ := newMockRepos()
	// unknownsite.example has no rule, so requires_dynamic is off.
	seedMachine(t, machines, &models.Machine{
		ID:         "m5",
		Name:       "Some Machine",
		ProductURL: "https://unknownsite.example/products/thing",
	})

	fetcher := &stubFetcher{err: extractor.NewError(extractor.CategoryFetchPermanent, "status 404")}
	dynamic := &stubExtractor{name: "dynamic", result: &extractor.Result{Price: 1000, Tier: models.TierDynamic}}
	svc := newTestService(repos, fetcher, &stubExtractor{name: "static"}, dynamic, nil)

	outcome, err := svc.ExtractByID(context.Background(), "m5", "")
	if err != nil {
		t.Fatalf("ExtractByID: %v", err)
	}
	if outcome.Success {
		t.Fatal("expected failure")
	}
	if dynamic.calls != 0 {
		t.Errorf("dynamic tier ran %d times after a 404, want 0", dynamic.calls)
	}
}

func TestExtractPermanentFetchFailureEscalatesWhenDynamicRequired(t *testing.T) {
	repos, machines, _, _ := newMockRepos()
	// commarker.com's built-in rule sets requires_dynamic.
	seedMachine(t, machines, &models.Machine{
		ID:         "m6",
		Name:       "ComMarker B6 30W",
		ProductURL: "https://commarker.com/products/b6",
		Price:      floatPtr(1800),
	})

	fetcher := &stubFetcher{err: extractor.NewError(extractor.CategoryFetchPermanent, "status 403")}
	dynamic := &stubExtractor{name: "dynamic", result: &extractor.Result{
		Price: 1839, Currency: "USD", Tier: models.TierDynamic, Confidence: 0.8,
	}}
	svc := newTestService(repos, fetcher, &stubExtractor{name: "static"}, dynamic, nil)

	outcome, err := svc.ExtractByID(context.Background(), "m6", "")
	if err != nil {
		t.Fatalf("ExtractByID: %v", err)
	}
	if dynamic.calls != 1 {
		t.Fatalf("dynamic tier calls = %d, want 1", dynamic.calls)
	}
	if !outcome.Success || outcome.Tier != models.TierDynamic {
		t.Errorf("outcome = success=%v tier=%s, want dynamic success", outcome.Success, outcome.Tier)
	}
}

func TestExtractByIDUnknownMachine(t *testing.T) {
	repos, _, _, _ := newMockRepos()
	svc := newTestService(repos, &stubFetcher{body: []byte(stubPage)}, &stubExtractor{name: "static"}, nil, nil)

	_, err := svc.ExtractByID(context.Background(), "nope", "")
	if !errors.Is(err, ErrMachineNotFound) {
		t.Fatalf("err = %v, want ErrMachineNotFound", err)
	}
}

// orderedMachineRepo and orderedHistoryRepo record the relative order of the
// learned-selector write and the history append.
type orderedMachineRepo struct {
	*mockMachineRepo
	log *callLog
}

func (o *orderedMachineRepo) UpdateLearnedSelectors(ctx context.Context, id string, selectors map[string]models.LearnedSelector) error {
	o.log.add("learn")
	return o.mockMachineRepo.UpdateLearnedSelectors(ctx, id, selectors)
}

type orderedHistoryRepo struct {
	*mockHistoryRepo
	log *callLog
}

func (o *orderedHistoryRepo) Append(ctx context.Context, row *models.PriceHistory) error {
	o.log.add("append")
	return o.mockHistoryRepo.Append(ctx, row)
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func TestLearnedSelectorWrittenBeforeHistory(t *testing.T) {
	log := &callLog{}
	machines := newMockMachineRepo()
	history := newMockHistoryRepo()
	repos := &repository.Repositories{
		Machine:      &orderedMachineRepo{mockMachineRepo: machines, log: log},
		PriceHistory: &orderedHistoryRepo{mockHistoryRepo: history, log: log},
		Batch:        newMockBatchRepo(),
	}
	seedMachine(t, machines, &models.Machine{
		ID:         "m7",
		Name:       "xTool S1 40W",
		ProductURL: "https://xtool.com/products/s1",
		Price:      floatPtr(2200),
	})

	llmResult := &extractor.Result{
		Price:        2149,
		Currency:     "USD",
		Tier:         models.TierLLM,
		Selector:     ".product-price .money",
		Confidence:   0.9,
		TokensInput:  12000,
		TokensOutput: 150,
		CostUSD:      0.0102,
		LearnedCandidate: &models.LearnedSelector{
			Selector:    ".product-price .money",
			LastSuccess: time.Now().UTC(),
			Confidence:  0.9,
			PriceFound:  2149,
			Method:      "llm_verified",
		},
	}
	static := &stubExtractor{name: "static", result: llmResult}
	svc := newTestService(repos, &stubFetcher{body: []byte(stubPage)}, static, nil, nil)

	outcome, err := svc.ExtractByID(context.Background(), "m7", "")
	if err != nil {
		t.Fatalf("ExtractByID: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("expected success, got %s", outcome.ValidationStatus)
	}

	log.mu.Lock()
	calls := append([]string(nil), log.calls...)
	log.mu.Unlock()
	if len(calls) != 2 || calls[0] != "learn" || calls[1] != "append" {
		t.Fatalf("call order = %v, want [learn append]", calls)
	}

	got, _ := machines.GetByID(context.Background(), "m7")
	learned, ok := got.LearnedSelectors["xtool.com"]
	if !ok {
		t.Fatal("no learned selector stored for xtool.com")
	}
	if learned.Selector != ".product-price .money" {
		t.Errorf("learned selector = %q", learned.Selector)
	}
	row := history.latest("m7")
	if row.LLMTokensInput != 12000 || row.LLMTokensOutput != 150 {
		t.Errorf("token accounting = %d/%d, want 12000/150", row.LLMTokensInput, row.LLMTokensOutput)
	}
	if row.LLMCostUSD != 0.0102 {
		t.Errorf("cost = %v, want 0.0102", row.LLMCostUSD)
	}
}

// deadlineExtractor records the context deadline it was invoked with.
type deadlineExtractor struct {
	stubExtractor
	deadline    time.Time
	hasDeadline bool
}

func (d *deadlineExtractor) Extract(ctx context.Context, req *extractor.Request) (*extractor.Result, error) {
	d.deadline, d.hasDeadline = ctx.Deadline()
	return d.stubExtractor.Extract(ctx, req)
}

func TestExtractTierDeadlinesTighterThanGlobal(t *testing.T) {
	repos, machines, _, _ := newMockRepos()
	seedMachine(t, machines, &models.Machine{
		ID:         "m9",
		Name:       "Aeon Mira 7",
		ProductURL: "https://aeonlaser.example/products/mira-7",
		Price:      floatPtr(6995),
	})

	rules, err := siterules.Load("")
	if err != nil {
		t.Fatalf("loading rules: %v", err)
	}
	static := &stubExtractor{name: "static", err: extractor.NewError(extractor.CategoryParseNoPrice, "no candidates")}
	dynamic := &deadlineExtractor{stubExtractor: stubExtractor{name: "dynamic", err: extractor.NewError(extractor.CategoryDynamicNavigationFailed, "variant never settled")}}
	llm := &deadlineExtractor{stubExtractor: stubExtractor{name: "llm", err: extractor.NewError(extractor.CategoryLLMParseFailed, "malformed response")}}

	svc := NewExtractionService(repos, ExtractionConfig{
		Rules:          rules,
		Fetcher:        &stubFetcher{body: []byte(stubPage)},
		Static:         static,
		Dynamic:        dynamic,
		LLM:            llm,
		Validator:      NewValidator(0.15, 0.50),
		GlobalTimeout:  180 * time.Second,
		DynamicTimeout: 60 * time.Second,
		LLMTimeout:     30 * time.Second,
	}, testLogger())

	start := time.Now()
	if _, err := svc.ExtractByID(context.Background(), "m9", ""); err != nil {
		t.Fatalf("ExtractByID: %v", err)
	}

	if !dynamic.hasDeadline {
		t.Fatal("dynamic tier ran without a deadline")
	}
	if allowance := dynamic.deadline.Sub(start); allowance > 61*time.Second {
		t.Errorf("dynamic deadline %v from start, want <= 60s", allowance)
	}
	if !llm.hasDeadline {
		t.Fatal("llm tier ran without a deadline")
	}
	if allowance := llm.deadline.Sub(start); allowance > 31*time.Second {
		t.Errorf("llm deadline %v from start, want <= 30s", allowance)
	}
}

func TestExtractBatchIDStampedOnHistory(t *testing.T) {
	repos, machines, history, _ := newMockRepos()
	seedMachine(t, machines, &models.Machine{
		ID:         "m8",
		Name:       "Monport GA 30",
		ProductURL: "https://monportlaser.com/products/ga-30",
	})

	static := &stubExtractor{name: "static", result: &extractor.Result{
		Price: 2499, Currency: "USD", Tier: models.TierSiteRule, Confidence: 0.9,
	}}
	svc := newTestService(repos, &stubFetcher{body: []byte(stubPage)}, static, nil, nil)

	if _, err := svc.ExtractByID(context.Background(), "m8", "batch_test123"); err != nil {
		t.Fatalf("ExtractByID: %v", err)
	}
	row := history.latest("m8")
	if row.BatchID == nil || *row.BatchID != "batch_test123" {
		t.Errorf("batch id = %v, want batch_test123", row.BatchID)
	}
}
