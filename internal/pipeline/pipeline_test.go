package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/masahif/adtrail/internal/browser/browsertest"
	"github.com/masahif/adtrail/internal/models"
	"github.com/masahif/adtrail/internal/queue"
	"github.com/masahif/adtrail/internal/scraper"
	"github.com/masahif/adtrail/internal/storage"
)

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const base = "https://www.revolico.com"

func testConfig() Config {
	cfg := DefaultConfig()
	for _, o := range []*StageOptions{&cfg.Listing, &cfg.Storage, &cfg.Detail} {
		o.Backoff = 0
	}
	cfg.DetailDelayMin = 0
	cfg.DetailDelayMax = 0
	return cfg
}

type harness struct {
	orch   *queue.Orchestrator
	broker *queue.SQLiteBroker
	store  *storage.SQLiteStore
}

func newHarness(t *testing.T, deps Deps) *harness {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewSQLiteStore(filepath.Join(dir, "products.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	broker, err := queue.NewSQLiteBroker(filepath.Join(dir, "queue.db"))
	if err != nil {
		t.Fatalf("NewSQLiteBroker: %v", err)
	}
	t.Cleanup(func() { _ = broker.Close() })

	if deps.Store == nil {
		deps.Store = store
	}
	orch, err := queue.NewOrchestrator(broker, Stages(deps), queue.Options{PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return &harness{orch: orch, broker: broker, store: store}
}

func (h *harness) jobs(t *testing.T, q string) []queue.Job {
	t.Helper()
	jobs, err := h.broker.List(context.Background(), q, "", 0)
	if err != nil {
		t.Fatalf("List(%s): %v", q, err)
	}
	return jobs
}

func drain(t *testing.T, h *harness) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.orch.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func listingPage(hrefs []string, hasNext bool) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="ybloC"><ul>`)
	for _, href := range hrefs {
		fmt.Fprintf(&b, `<li><a href="%s"><span>200 USD</span><p>Teléfono</p><picture><img src="https://pic.example/%d.jpg"></picture></a></li>`,
			href, len(href))
	}
	b.WriteString("</ul></div>")
	if hasNext {
		b.WriteString(`<a id="paginator-next" href="#">Siguiente</a>`)
	} else {
		b.WriteString(`<a id="paginator-next" class="disabled">Siguiente</a>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}

const detailHTML = `<html><body>
<div class="bzsCgK"><p class="cZACiy">320 visitas</p><p data-cy="adLocation">Playa, La Habana</p></div>
<div class="fmEzaW"><p data-cy="adName">Yoandy</p><a href="tel:+5352669205">Llamar</a></div>
</body></html>`

func TestPipelineEndToEnd(t *testing.T) {
	const (
		category    = "compra-venta"
		subcategory = "celulares-lineas-y-accesorios"
		first       = "/item/iphone-13-52669205-45321001"
		second      = "/item/samsung-a54-52669206-45321002"
	)

	b := browsertest.New(map[string]browsertest.Page{
		scraper.BuildListingURL(base, category, subcategory, 1): {Status: 200, HTML: listingPage([]string{first}, true)},
		scraper.BuildListingURL(base, category, subcategory, 2): {Status: 200, HTML: listingPage([]string{second, first}, false)},
		base + first: {Status: 200, HTML: detailHTML},
		// second detail page is missing and answers 404
	})
	scfg := scraper.Config{BaseURL: base}
	h := newHarness(t, Deps{
		Listings: scraper.NewListingCrawler(b, scfg),
		Details:  scraper.NewDetailScraper(b, scfg),
		Config:   testConfig(),
	})

	ctx := context.Background()
	payload := fmt.Sprintf(`{"category":%q,"subcategory":%q,"pageNumber":1,"totalPages":2}`, category, subcategory)
	id, err := h.orch.Submit(ctx, ListingQueue, []byte(payload))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drain(t, h)

	listing, _ := h.broker.Get(ctx, id)
	var lo ListingOutcome
	if err := json.Unmarshal(listing.Result, &lo); err != nil || lo.Count != 2 {
		t.Errorf("listing result = %s", listing.Result)
	}
	if listing.Progress != 100 {
		t.Errorf("listing progress = %v", listing.Progress)
	}

	if n, _ := h.store.Count(ctx, storage.Filter{Category: category}); n != 2 {
		t.Fatalf("stored records = %d; want 2", n)
	}

	rec, err := h.store.FindByURL(ctx, base+first)
	if err != nil {
		t.Fatalf("FindByURL: %v", err)
	}
	if rec.ProductID != "45321001" || rec.Price != 200 || rec.Currency != "USD" {
		t.Errorf("summary = %+v", rec.ProductSummary)
	}
	if rec.Views != 320 || rec.Location.State != "La Habana" || rec.Seller.Phone != "+5352669205" {
		t.Errorf("detail = %+v", rec.ProductDetail)
	}
	if len(rec.ViewsHistory) != 1 || len(rec.LocationHistory) != 1 {
		t.Errorf("detail histories = %d/%d; want 1/1", len(rec.ViewsHistory), len(rec.LocationHistory))
	}

	other, _ := h.store.FindByURL(ctx, base+second)
	if other == nil || len(other.ViewsHistory) != 0 {
		t.Errorf("record with failed detail fetch = %+v", other)
	}

	details := h.jobs(t, DetailQueue)
	if len(details) != 1 || details[0].Status != queue.StatusCompleted {
		t.Fatalf("detail jobs = %+v", details)
	}
	var do DetailOutcome
	_ = json.Unmarshal(details[0].Result, &do)
	if do.Updated != 1 || do.Skipped != 1 {
		t.Errorf("detail outcome = %+v; want 1 updated, 1 skipped", do)
	}
	if b.OpenSessions() != 0 {
		t.Errorf("%d browser sessions left open", b.OpenSessions())
	}
}

type fakeListings struct {
	items []models.ProductSummary
	err   error
}

func (f *fakeListings) FetchListings(context.Context, scraper.ListingRequest, scraper.Reporter) ([]models.ProductSummary, error) {
	return f.items, f.err
}

type fakeDetails struct {
	mu      sync.Mutex
	results map[string]*models.ProductDetail
	errs    map[string]error
	calls   []string
}

func (f *fakeDetails) FetchDetail(_ context.Context, url string, _ scraper.Reporter) (*models.ProductDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return f.results[url], nil
}

func summaries(n int) []models.ProductSummary {
	items := make([]models.ProductSummary, n)
	for i := range items {
		items[i] = models.ProductSummary{
			Category: "vivienda",
			URL:      fmt.Sprintf("%s/item/casa-%d-5266%04d-4532%04d", base, i, i, i),
			Cost:     "1,000 USD",
			Currency: "USD",
			Price:    1000,
			ImageURL: "https://pic.example/casa.jpg",
		}
	}
	return items
}

func TestPipelineFanOut(t *testing.T) {
	cfg := testConfig()
	cfg.ListingBatchSize = 3
	cfg.DetailBatchSize = 2

	h := newHarness(t, Deps{
		Listings: &fakeListings{items: summaries(7)},
		Details:  &fakeDetails{},
		Config:   cfg,
	})
	if _, err := h.orch.Submit(context.Background(), ListingQueue, []byte(`{"category":"vivienda"}`)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drain(t, h)

	// 7 summaries in batches of 3, then 3+3+1 urls in batches of 2.
	want := map[string]int{ListingQueue: 1, StorageQueue: 3, DetailQueue: 2 + 2 + 1}
	for q, n := range want {
		jobs := h.jobs(t, q)
		if len(jobs) != n {
			t.Errorf("%s jobs = %d; want %d", q, len(jobs), n)
		}
		for _, j := range jobs {
			if j.Status != queue.StatusCompleted {
				t.Errorf("%s job %s status = %s", q, j.ID, j.Status)
			}
		}
	}

	storageJob := h.jobs(t, StorageQueue)[0]
	var batch StorageBatch
	if err := json.Unmarshal(storageJob.Payload, &batch); err != nil || len(batch) == 0 || len(batch) > 3 {
		t.Errorf("storage payload = %s", storageJob.Payload)
	}
}

func TestPipelineStorageStageReportsInvalidItems(t *testing.T) {
	items := summaries(3)
	items[1].Currency = ""

	cfg := testConfig()
	h := newHarness(t, Deps{
		Listings: &fakeListings{items: items},
		Details:  &fakeDetails{},
		Config:   cfg,
	})
	if _, err := h.orch.Submit(context.Background(), ListingQueue, []byte(`{"category":"vivienda"}`)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drain(t, h)

	storageJob := h.jobs(t, StorageQueue)[0]
	var out StorageOutcome
	if err := json.Unmarshal(storageJob.Result, &out); err != nil {
		t.Fatalf("storage result: %v", err)
	}
	if out.Stored != 2 || len(out.InvalidItems) != 1 || out.InvalidItems[0].Item.URL != items[1].URL {
		t.Errorf("storage outcome = %+v", out)
	}

	logs, _ := h.broker.Logs(context.Background(), storageJob.ID)
	found := false
	for _, l := range logs {
		if strings.Contains(l.Message, "currency") {
			found = true
		}
	}
	if !found {
		t.Errorf("invalid item not logged: %+v", logs)
	}

	var targets DetailBatch
	_ = json.Unmarshal(h.jobs(t, DetailQueue)[0].Payload, &targets)
	if len(targets) != 2 {
		t.Errorf("detail targets = %+v; want only stored urls", targets)
	}
}

func TestDetailStageSkips(t *testing.T) {
	ctx := context.Background()
	items := summaries(3)
	details := &fakeDetails{
		results: map[string]*models.ProductDetail{
			items[0].URL: {Views: 12, Location: models.Location{State: "Cienfuegos"}},
		},
		errs: map[string]error{
			items[1].URL: &scraper.PageLoadError{Status: 500, URL: items[1].URL},
		},
	}
	h := newHarness(t, Deps{Details: details, Listings: &fakeListings{}, Config: testConfig()})

	if _, err := h.store.BulkUpsert(ctx, items[:2]); err != nil {
		t.Fatalf("BulkUpsert: %v", err)
	}

	payload, _ := json.Marshal(DetailBatch{{URL: items[0].URL}, {URL: items[1].URL}, {URL: items[2].URL}})
	id, err := h.orch.Submit(ctx, DetailQueue, payload)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drain(t, h)

	job, _ := h.broker.Get(ctx, id)
	if job.Status != queue.StatusCompleted || job.Progress != 100 {
		t.Fatalf("detail job = %+v", job)
	}
	var out DetailOutcome
	_ = json.Unmarshal(job.Result, &out)
	if out.Updated != 1 || out.Skipped != 2 {
		t.Errorf("outcome = %+v", out)
	}
	// The missing record is never fetched.
	if len(details.calls) != 2 {
		t.Errorf("fetched %v", details.calls)
	}

	rec, _ := h.store.FindByURL(ctx, items[0].URL)
	if rec.Views != 12 || len(rec.ViewsHistory) != 1 {
		t.Errorf("updated record = %+v", rec.ProductDetail)
	}
}

func TestDetailStageSessionFailureRetries(t *testing.T) {
	ctx := context.Background()
	items := summaries(1)
	details := &fakeDetails{errs: map[string]error{
		items[0].URL: &scraper.SessionError{Err: errors.New("chrome not found")},
	}}
	h := newHarness(t, Deps{Details: details, Listings: &fakeListings{}, Config: testConfig()})
	if _, err := h.store.BulkUpsert(ctx, items); err != nil {
		t.Fatalf("BulkUpsert: %v", err)
	}

	payload, _ := json.Marshal(DetailBatch{{URL: items[0].URL}})
	id, err := h.orch.Submit(ctx, DetailQueue, payload)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drain(t, h)

	job, _ := h.broker.Get(ctx, id)
	if job.Status != queue.StatusFailed || job.Attempts != testConfig().Detail.Attempts {
		t.Errorf("job = %+v; want failed after every attempt", job)
	}
	if !strings.Contains(job.LastError, "chrome not found") {
		t.Errorf("last error = %q", job.LastError)
	}
}

func TestListingStageInvalidParameterIsPermanent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Deps{
		Listings: &fakeListings{err: &scraper.InvalidParameterError{Param: "category"}},
		Details:  &fakeDetails{},
		Config:   testConfig(),
	})

	id, err := h.orch.Submit(ctx, ListingQueue, []byte(`{"category":"vivienda"}`))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drain(t, h)

	job, _ := h.broker.Get(ctx, id)
	if job.Status != queue.StatusFailed || job.Attempts != 1 {
		t.Errorf("job = %+v; want failed on first attempt", job)
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, Deps{Listings: &fakeListings{}, Details: &fakeDetails{}, Config: testConfig()})

	tests := []struct {
		name    string
		queue   string
		payload string
		field   string
	}{
		{"empty category", ListingQueue, `{"category":""}`, "category"},
		{"missing category", ListingQueue, `{"subcategory":"laptops"}`, "category"},
		{"page not a number", ListingQueue, `{"category":"x","pageNumber":"one"}`, "pageNumber"},
		{"storage not an array", StorageQueue, `{"url":"x"}`, "payload"},
		{"detail without url", DetailQueue, `[{"url":"https://a"},{}]`, "[1].url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.Submit(context.Background(), tt.queue, []byte(tt.payload))
			var verr *models.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("err = %v; want ValidationError", err)
			}
			if verr.Fields[0].Field != tt.field {
				t.Errorf("field = %q; want %q", verr.Fields[0].Field, tt.field)
			}
		})
	}

	if jobs := h.jobs(t, ""); len(jobs) != 0 {
		t.Errorf("rejected submissions enqueued %d jobs", len(jobs))
	}
}

func TestChunk(t *testing.T) {
	tests := []struct {
		n, size int
		want    []int
	}{
		{0, 3, nil},
		{5, 2, []int{2, 2, 1}},
		{6, 3, []int{3, 3}},
		{4, 10, []int{4}},
		{4, 0, []int{4}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.n, tt.size), func(t *testing.T) {
			got := Chunk(make([]int, tt.n), tt.size)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d batches; want %d", len(got), len(tt.want))
			}
			for i, b := range got {
				if len(b) != tt.want[i] {
					t.Errorf("batch %d has %d items; want %d", i, len(b), tt.want[i])
				}
			}
		})
	}
}

func TestDetailDelay(t *testing.T) {
	r := &runner{deps: Deps{Config: Config{DetailDelayMin: time.Second, DetailDelayMax: 3 * time.Second}}}
	for i := 0; i < 200; i++ {
		d := r.detailDelay()
		if d < time.Second || d > 3*time.Second {
			t.Fatalf("delay %v out of range", d)
		}
	}

	r.deps.Config = Config{DetailDelayMin: 2 * time.Second}
	if d := r.detailDelay(); d != 2*time.Second {
		t.Errorf("fixed delay = %v", d)
	}
}
