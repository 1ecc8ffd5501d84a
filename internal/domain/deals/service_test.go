package deals

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealhound/dealhound/internal/domain/offer"
	"github.com/dealhound/dealhound/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	mu     sync.Mutex
	byID   map[string]*product.Product
	byName map[string]*product.Product
}

func newMockProductRepo(products ...*product.Product) *mockProductRepo {
	m := &mockProductRepo{
		byID:   make(map[string]*product.Product),
		byName: make(map[string]*product.Product),
	}
	for _, p := range products {
		m.byID[p.ID] = p
		m.byName[strings.ToLower(p.Name)] = p
	}
	return m
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockProductRepo) FindByName(_ context.Context, name string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byName[strings.ToLower(name)]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockProductRepo) Create(_ context.Context, p *product.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[p.ID] = p
	m.byName[strings.ToLower(p.Name)] = p
	return nil
}

func (m *mockProductRepo) SearchByName(_ context.Context, _ string, _ int) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) ListNames(_ context.Context) ([]string, error) {
	return nil, nil
}

type mockCacheRepo struct {
	mu        sync.Mutex
	entries   map[string]*CacheEntry // by product ID
	byName    map[string]*CacheEntry
	saveCalls int
	findErr   error
	saveErr   error
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{
		entries: make(map[string]*CacheEntry),
		byName:  make(map[string]*CacheEntry),
	}
}

func (m *mockCacheRepo) Find(_ context.Context, productID string) (*CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	e, ok := m.entries[productID]
	if !ok {
		return nil, ErrNoEntry
	}
	return e, nil
}

func (m *mockCacheRepo) FindByName(_ context.Context, name string) (*CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byName[strings.ToLower(name)]
	if !ok {
		return nil, ErrNoEntry
	}
	return e, nil
}

func (m *mockCacheRepo) Save(_ context.Context, e *CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.entries[e.ProductID] = e
	m.byName[strings.ToLower(e.ProductName)] = e
	return nil
}

type mockHistoryRepo struct {
	mu      sync.Mutex
	records [][]string
	recent  []string
	err     error
}

func (m *mockHistoryRepo) Record(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, ids)
	return nil
}

func (m *mockHistoryRepo) RecentProductNames(_ context.Context, limit int) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(m.recent) > limit {
		return m.recent[:limit], nil
	}
	return m.recent, nil
}

type fetchCall struct {
	query  string
	offset int
}

type mockFetcher struct {
	mu     sync.Mutex
	offers []offer.Offer
	err    error
	calls  []fetchCall
}

func (m *mockFetcher) Fetch(_ context.Context, query string, offset int) ([]offer.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fetchCall{query: query, offset: offset})
	if m.err != nil {
		return nil, m.err
	}
	return m.offers, nil
}

func (m *mockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockFastCache struct {
	mu     sync.Mutex
	offers map[string][]offer.Offer
	sets   int
}

func newMockFastCache() *mockFastCache {
	return &mockFastCache{offers: make(map[string][]offer.Offer)}
}

func (m *mockFastCache) GetOffers(_ context.Context, productID string) ([]offer.Offer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[productID]
	return o, ok
}

func (m *mockFastCache) SetOffers(_ context.Context, productID string, offers []offer.Offer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers[productID] = offers
	m.sets++
}

type mockSink struct {
	mu    sync.Mutex
	ids   [][]string
	names [][]string
}

func (m *mockSink) SearchPerformed(_ context.Context, ids, names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, ids)
	m.names = append(m.names, names)
}

// --- Fixture ---

type fixture struct {
	svc     *Service
	repo    *mockProductRepo
	cache   *mockCacheRepo
	history *mockHistoryRepo
	fetcher *mockFetcher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		repo:    newMockProductRepo(&product.Product{ID: "p1", Name: "Milk 2L", Category: "Dairy"}),
		cache:   newMockCacheRepo(),
		history: &mockHistoryRepo{},
		fetcher: &mockFetcher{},
	}
	f.svc = NewService(
		product.NewResolver(f.repo),
		f.cache,
		f.history,
		f.fetcher,
		offer.NewFreshness(map[string]int{"coles": 1, "woolworths": 1}),
		Limits{Anonymous: 2, Authenticated: 10},
		opts...,
	)
	return f
}

func freshOffers(n int) []offer.Offer {
	offers := make([]offer.Offer, n)
	for i := range offers {
		offers[i] = offer.Offer{
			Title:     "Offer " + string(rune('A'+i)),
			Link:      "https://coles.example/" + string(rune('a'+i)),
			Price:     "$4.50",
			Source:    "Coles",
			FetchedAt: time.Now().Add(-time.Hour),
		}
	}
	return offers
}

// --- Tests ---

func TestResolveDeals_FirstFetchPopulatesCache(t *testing.T) {
	f := newFixture(t)
	f.fetcher.offers = freshOffers(12)

	results, err := f.svc.ResolveDeals(t.Context(), Request{
		Products: []product.Ref{{Name: "Milk 2L"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, "p1", res.Product.ID)
	assert.Equal(t, SourceLive, res.Source)
	assert.Len(t, res.Deals, PageSize)

	// The full fetched set is persisted, not just the served page.
	entry, err := f.cache.Find(t.Context(), "p1")
	require.NoError(t, err)
	assert.Len(t, entry.Offers, 12)
	require.NotNil(t, entry.BestPrice)
	assert.Equal(t, "4.5", entry.BestPrice.String())
	assert.True(t, entry.ExpiresAt.After(entry.CreatedAt))
}

func TestResolveDeals_RepeatServedFromCache(t *testing.T) {
	f := newFixture(t)
	f.fetcher.offers = freshOffers(5)

	first, err := f.svc.ResolveDeals(t.Context(), Request{Products: []product.Ref{{Name: "Milk 2L"}}})
	require.NoError(t, err)
	require.Equal(t, 1, f.fetcher.callCount())

	second, err := f.svc.ResolveDeals(t.Context(), Request{Products: []product.Ref{{Name: "Milk 2L"}}})
	require.NoError(t, err)

	assert.Equal(t, 1, f.fetcher.callCount(), "no second provider call")
	assert.Equal(t, SourceLive, first[0].Source)
	assert.Equal(t, SourceCache, second[0].Source)
	assert.Equal(t, first[0].Deals, second[0].Deals)
}

func TestResolveDeals_DeeperPageAlwaysFetches(t *testing.T) {
	f := newFixture(t)
	f.fetcher.offers = freshOffers(12)

	_, err := f.svc.ResolveDeals(t.Context(), Request{Products: []product.Ref{{Name: "Milk 2L"}}})
	require.NoError(t, err)
	entryBefore, err := f.cache.Find(t.Context(), "p1")
	require.NoError(t, err)

	results, err := f.svc.ResolveDeals(t.Context(), Request{
		Products:   []product.Ref{{Name: "Milk 2L"}},
		PageOffset: 10,
	})
	require.NoError(t, err)

	require.Equal(t, 2, f.fetcher.callCount())
	assert.Equal(t, 10, f.fetcher.calls[1].offset)
	assert.Equal(t, SourceLive, results[0].Source)
	assert.Len(t, results[0].Deals, 2)

	// Deeper pages never touch the stored snapshot.
	entryAfter, err := f.cache.Find(t.Context(), "p1")
	require.NoError(t, err)
	assert.Equal(t, entryBefore, entryAfter)
}

func TestResolveDeals_EmptyBatch(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ResolveDeals(t.Context(), Request{})
	assert.ErrorIs(t, err, ErrNoProducts)
}

func TestResolveDeals_BatchLimit(t *testing.T) {
	f := newFixture(t)

	refs := []product.Ref{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	_, err := f.svc.ResolveDeals(t.Context(), Request{Products: refs})

	var limitErr *BatchLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 2, limitErr.Limit)
	assert.False(t, limitErr.Authenticated)
	assert.Contains(t, limitErr.Error(), "guests")
	assert.Zero(t, f.fetcher.callCount(), "rejected before any lookups")
	assert.Empty(t, f.history.records)
}

func TestResolveDeals_AuthenticatedLimit(t *testing.T) {
	f := newFixture(t)
	f.fetcher.offers = freshOffers(1)

	refs := []product.Ref{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	_, err := f.svc.ResolveDeals(t.Context(), Request{Products: refs, Authenticated: true})
	require.NoError(t, err, "three products fit the authenticated limit")

	eleven := make([]product.Ref, 11)
	for i := range eleven {
		eleven[i] = product.Ref{Name: "x" + string(rune('a'+i))}
	}
	_, err = f.svc.ResolveDeals(t.Context(), Request{Products: eleven, Authenticated: true})

	var limitErr *BatchLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 10, limitErr.Limit)
	assert.True(t, limitErr.Authenticated)
	assert.NotContains(t, limitErr.Error(), "guests")
}

func TestResolveDeals_UnresolvableRefsDropped(t *testing.T) {
	f := newFixture(t)
	f.fetcher.offers = freshOffers(3)

	results, err := f.svc.ResolveDeals(t.Context(), Request{
		Products: []product.Ref{{ID: "ghost"}, {Name: "Milk 2L"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].Product.ID)
}

func TestResolveDeals_AllRefsUnresolvable(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ResolveDeals(t.Context(), Request{
		Products: []product.Ref{{ID: "ghost"}, {ID: "ghost2"}},
	})
	assert.ErrorIs(t, err, ErrNoValidProducts)
}

func TestResolveDeals_StaleSnapshotRefetchedAndMerged(t *testing.T) {
	f := newFixture(t)

	stale := []offer.Offer{{
		Title:     "Old offer",
		Link:      "https://coles.example/old",
		Price:     "$5.00",
		Source:    "Coles",
		FetchedAt: time.Now().Add(-48 * time.Hour),
	}}
	require.NoError(t, f.cache.Save(t.Context(), &CacheEntry{
		ID:          "e1",
		ProductID:   "p1",
		ProductName: "Milk 2L",
		Offers:      stale,
		CreatedAt:   time.Now().Add(-48 * time.Hour),
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	f.fetcher.offers = freshOffers(2)
	results, err := f.svc.ResolveDeals(t.Context(), Request{Products: []product.Ref{{Name: "Milk 2L"}}})
	require.NoError(t, err)

	assert.Equal(t, SourceLive, results[0].Source)
	require.Len(t, results[0].Deals, 3, "old offers are kept alongside new ones")

	entry, err := f.cache.Find(t.Context(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "e1", entry.ID, "entry identity survives updates")
	assert.Len(t, entry.Offers, 3)
}

func TestResolveDeals_FetchFailureServesStaleSnapshot(t *testing.T) {
	f := newFixture(t)

	stale := []offer.Offer{{
		Title:     "Old offer",
		Link:      "https://coles.example/old",
		Price:     "$5.00",
		Source:    "Coles",
		FetchedAt: time.Now().Add(-48 * time.Hour),
	}}
	require.NoError(t, f.cache.Save(t.Context(), &CacheEntry{
		ProductID: "p1", ProductName: "Milk 2L", Offers: stale,
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	f.fetcher.err = errors.Wrap(ErrProviderUnavailable, "status 502")
	results, err := f.svc.ResolveDeals(t.Context(), Request{Products: []product.Ref{{Name: "Milk 2L"}}})
	require.NoError(t, err)

	assert.Equal(t, SourceCache, results[0].Source)
	assert.Equal(t, stale, results[0].Deals)
}

// expiredEntry seeds the cache with an entry whose offers are fresh but whose
// hard expiry has already passed.
func expiredEntry(t *testing.T, f *fixture) {
	t.Helper()
	require.NoError(t, f.cache.Save(t.Context(), &CacheEntry{
		ID:          "e-old",
		ProductID:   "p1",
		ProductName: "Milk 2L",
		Offers:      freshOffers(2),
		CreatedAt:   time.Now().Add(-25 * time.Hour),
		ExpiresAt:   time.Now().Add(-time.Hour),
	}))
}

func TestResolveDeals_ExpiredEntryTreatedAsAbsent(t *testing.T) {
	f := newFixture(t)
	expiredEntry(t, f)

	f.fetcher.offers = []offer.Offer{{
		Title: "New offer", Link: "https://coles.example/new",
		Price: "$4.00", Source: "Coles", FetchedAt: time.Now(),
	}}
	results, err := f.svc.ResolveDeals(t.Context(), Request{Products: []product.Ref{{Name: "Milk 2L"}}})
	require.NoError(t, err)

	assert.Equal(t, 1, f.fetcher.callCount(), "expired entry must trigger a refetch")
	assert.Equal(t, SourceLive, results[0].Source)
	require.Len(t, results[0].Deals, 1, "expired offers are not merged into the result")

	entry, err := f.cache.Find(t.Context(), "p1")
	require.NoError(t, err)
	assert.NotEqual(t, "e-old", entry.ID, "refetch after expiry opens a new validity window")
	assert.True(t, entry.ExpiresAt.After(time.Now()))
	assert.Len(t, entry.Offers, 1)
}

func TestResolveDeals_ExpiredEntryNotServedOnFetchFailure(t *testing.T) {
	f := newFixture(t)
	expiredEntry(t, f)

	f.fetcher.err = errors.Wrap(ErrProviderUnavailable, "status 502")
	results, err := f.svc.ResolveDeals(t.Context(), Request{Products: []product.Ref{{Name: "Milk 2L"}}})
	require.NoError(t, err)

	assert.Equal(t, SourceLive, results[0].Source)
	assert.Empty(t, results[0].Deals, "an expired snapshot is not a fallback")
}

func TestResolveDeals_NoCredentialDegradesToEmpty(t *testing.T) {
	f := newFixture(t)
	f.fetcher.err = ErrNoCredential

	results, err := f.svc.ResolveDeals(t.Context(), Request{Products: []product.Ref{{Name: "Milk 2L"}}})
	require.NoError(t, err)

	assert.Equal(t, SourceLive, results[0].Source)
	assert.Empty(t, results[0].Deals)
}

func TestResolveDeals_FastCacheHitSkipsEverything(t *testing.T) {
	fast := newMockFastCache()
	f := newFixture(t, WithFastCache(fast))
	fast.SetOffers(t.Context(), "p1", freshOffers(4))
	fast.sets = 0

	results, err := f.svc.ResolveDeals(t.Context(), Request{Products: []product.Ref{{Name: "Milk 2L"}}})
	require.NoError(t, err)

	assert.Equal(t, SourceCache, results[0].Source)
	assert.Len(t, results[0].Deals, 4)
	assert.Zero(t, f.fetcher.callCount())
	assert.Zero(t, f.cache.saveCalls)
}

func TestResolveDeals_FastCachePopulatedAfterFetch(t *testing.T) {
	fast := newMockFastCache()
	f := newFixture(t, WithFastCache(fast))
	f.fetcher.offers = freshOffers(3)

	_, err := f.svc.ResolveDeals(t.Context(), Request{Products: []product.Ref{{Name: "Milk 2L"}}})
	require.NoError(t, err)

	assert.Equal(t, 1, fast.sets)
	offers, ok := fast.GetOffers(t.Context(), "p1")
	require.True(t, ok)
	assert.Len(t, offers, 3)
}

func TestResolveDeals_SaveFailureStillServesFetched(t *testing.T) {
	f := newFixture(t)
	f.cache.saveErr = errors.New("db down")
	f.fetcher.offers = freshOffers(3)

	results, err := f.svc.ResolveDeals(t.Context(), Request{Products: []product.Ref{{Name: "Milk 2L"}}})
	require.NoError(t, err)
	assert.Len(t, results[0].Deals, 3)
	assert.Equal(t, SourceLive, results[0].Source)
}

func TestResolveDeals_RecordsHistoryAndEvents(t *testing.T) {
	sink := &mockSink{}
	f := newFixture(t, WithEvents(sink))
	f.fetcher.offers = freshOffers(1)

	_, err := f.svc.ResolveDeals(t.Context(), Request{Products: []product.Ref{{Name: "Milk 2L"}}})
	require.NoError(t, err)

	require.Len(t, f.history.records, 1)
	assert.Equal(t, []string{"p1"}, f.history.records[0])
	require.Len(t, sink.ids, 1)
	assert.Equal(t, []string{"p1"}, sink.ids[0])
	assert.Equal(t, []string{"Milk 2L"}, sink.names[0])
}

func TestResolveDeals_HistoryFailureNonFatal(t *testing.T) {
	f := newFixture(t)
	f.history.err = errors.New("db down")
	f.fetcher.offers = freshOffers(1)

	results, err := f.svc.ResolveDeals(t.Context(), Request{Products: []product.Ref{{Name: "Milk 2L"}}})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestResolveDeals_QuerySanitized(t *testing.T) {
	f := newFixture(t)
	f.fetcher.offers = freshOffers(1)

	_, err := f.svc.ResolveDeals(t.Context(), Request{
		Products: []product.Ref{{Name: "Ben & Jerry's 500ml"}},
	})
	require.NoError(t, err)

	require.Equal(t, 1, f.fetcher.callCount())
	assert.Equal(t, "Ben Jerrys 500ml", f.fetcher.calls[0].query)
}

func TestBestDeals(t *testing.T) {
	f := newFixture(t, WithFeaturedLimit(3))
	f.history.recent = []string{"Milk 2L", "Bread"}

	// Milk has a fresh snapshot; Bread must be fetched.
	require.NoError(t, f.cache.Save(t.Context(), &CacheEntry{
		ProductID:   "p1",
		ProductName: "Milk 2L",
		Offers: []offer.Offer{{
			Title: "Milk", Link: "l1", Price: "$3.00", Source: "Coles",
			FetchedAt: time.Now().Add(-time.Hour),
		}},
		ExpiresAt: time.Now().Add(time.Hour),
	}))
	f.fetcher.offers = []offer.Offer{
		{Title: "Bread", Link: "l2", Price: "$2.00", Source: "Coles", FetchedAt: time.Now()},
		{Title: "Bread Premium", Link: "l3", Price: "price on request", Source: "Coles", FetchedAt: time.Now()},
	}

	best, err := f.svc.BestDeals(t.Context(), 0)
	require.NoError(t, err)

	require.Len(t, best, 3)
	assert.Equal(t, "Bread", best[0].Title)
	assert.Equal(t, "Milk", best[1].Title)
	assert.Equal(t, "Bread Premium", best[2].Title, "unpriced offers sort last")
	assert.Equal(t, 1, f.fetcher.callCount(), "cached product is not refetched")
}

func TestBestDeals_ExpiredEntryFetchedLive(t *testing.T) {
	f := newFixture(t, WithFeaturedLimit(3))
	f.history.recent = []string{"Milk 2L"}
	expiredEntry(t, f)

	f.fetcher.offers = []offer.Offer{{
		Title: "Milk", Link: "l1", Price: "$3.00", Source: "Coles",
		FetchedAt: time.Now(),
	}}

	best, err := f.svc.BestDeals(t.Context(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, f.fetcher.callCount(), "expired snapshot must not satisfy the listing")
	require.Len(t, best, 1)
	assert.Equal(t, "Milk", best[0].Title)
}

func TestBestDeals_EmptyHistory(t *testing.T) {
	f := newFixture(t)

	best, err := f.svc.BestDeals(t.Context(), 5)
	require.NoError(t, err)
	assert.Empty(t, best)
	assert.Zero(t, f.fetcher.callCount())
}

func TestBestDeals_HistoryError(t *testing.T) {
	f := newFixture(t)
	f.history.err = errors.New("db down")

	_, err := f.svc.BestDeals(t.Context(), 5)
	require.Error(t, err)
}
