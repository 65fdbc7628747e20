package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fundrate-collector/internal/exchange"
	"fundrate-collector/internal/model"
	"fundrate-collector/internal/publisher"
	"fundrate-collector/internal/store"
)

// fakeStore is an in-memory store.Storage. Writes apply immediately;
// Commit only counts, which is enough for behavior-level tests.
type fakeStore struct {
	mu         sync.Mutex
	contracts  map[uuid.UUID]*model.Contract
	historical map[uuid.UUID][]model.HistoricalFundingPoint
	live       []model.LiveFundingPoint
	sections   []string
	assets     []string
	quotes     []string
	begun      int
	committed  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		contracts:  make(map[uuid.UUID]*model.Contract),
		historical: make(map[uuid.UUID][]model.HistoricalFundingPoint),
	}
}

func (s *fakeStore) Begin(ctx context.Context) (store.UnitOfWork, error) {
	s.mu.Lock()
	s.begun++
	s.mu.Unlock()
	return &fakeUOW{s: s}, nil
}

func (s *fakeStore) addContract(c model.Contract) *model.Contract {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	row := c
	s.contracts[row.ID] = &row
	return &row
}

func (s *fakeStore) addHistorical(contractID uuid.UUID, ts time.Time) {
	s.historical[contractID] = append(s.historical[contractID], model.HistoricalFundingPoint{
		ContractID: contractID,
		Timestamp:  ts,
	})
}

type fakeUOW struct{ s *fakeStore }

func (u *fakeUOW) Assets() store.AssetWriter                       { return &fakeAssets{u.s} }
func (u *fakeUOW) Quotes() store.QuoteWriter                       { return &fakeQuotes{u.s} }
func (u *fakeUOW) Sections() store.SectionWriter                   { return &fakeSections{u.s} }
func (u *fakeUOW) Contracts() store.ContractStore                  { return &fakeContracts{u.s} }
func (u *fakeUOW) HistoricalFunding() store.HistoricalFundingStore { return &fakeHistorical{u.s} }
func (u *fakeUOW) LiveFunding() store.LiveFundingWriter            { return &fakeLive{u.s} }

func (u *fakeUOW) Commit(ctx context.Context) error {
	u.s.mu.Lock()
	u.s.committed++
	u.s.mu.Unlock()
	return nil
}

func (u *fakeUOW) Close(ctx context.Context) {}

type fakeAssets struct{ s *fakeStore }

func (f *fakeAssets) InsertIgnore(ctx context.Context, assets []model.Asset) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, a := range assets {
		f.s.assets = appendUnique(f.s.assets, a.Name)
	}
	return nil
}

type fakeQuotes struct{ s *fakeStore }

func (f *fakeQuotes) InsertIgnore(ctx context.Context, quotes []model.Quote) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, q := range quotes {
		f.s.quotes = appendUnique(f.s.quotes, q.Name)
	}
	return nil
}

type fakeSections struct{ s *fakeStore }

func (f *fakeSections) InsertIgnore(ctx context.Context, sections []model.Section) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, sec := range sections {
		f.s.sections = appendUnique(f.s.sections, sec.Name)
	}
	return nil
}

func appendUnique(list []string, name string) []string {
	for _, have := range list {
		if have == name {
			return list
		}
	}
	return append(list, name)
}

type fakeContracts struct{ s *fakeStore }

func (f *fakeContracts) Get(ctx context.Context, id uuid.UUID) (*model.Contract, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	row := *f.s.contracts[id]
	return &row, nil
}

func (f *fakeContracts) GetBySection(ctx context.Context, sectionName string) ([]*model.Contract, error) {
	return f.bySection(sectionName, false), nil
}

func (f *fakeContracts) GetActiveBySection(ctx context.Context, sectionName string) ([]*model.Contract, error) {
	return f.bySection(sectionName, true), nil
}

func (f *fakeContracts) bySection(sectionName string, activeOnly bool) []*model.Contract {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var out []*model.Contract
	for _, c := range f.s.contracts {
		if c.SectionName != sectionName {
			continue
		}
		if activeOnly && c.Deprecated {
			continue
		}
		row := *c
		out = append(out, &row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label() < out[j].Label() })
	return out
}

func (f *fakeContracts) UpsertMany(ctx context.Context, contracts []model.Contract) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, c := range contracts {
		key := c.AssetName + "/" + c.SectionName + "/" + c.QuoteName
		var existing *model.Contract
		for _, have := range f.s.contracts {
			if have.AssetName+"/"+have.SectionName+"/"+have.QuoteName == key {
				existing = have
				break
			}
		}
		if existing != nil {
			existing.FundingInterval = c.FundingInterval
			existing.Deprecated = c.Deprecated
			continue
		}
		row := c
		row.ID = uuid.New()
		f.s.contracts[row.ID] = &row
	}
	return nil
}

func (f *fakeContracts) MarkDeprecated(ctx context.Context, ids []uuid.UUID) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, id := range ids {
		if c, ok := f.s.contracts[id]; ok {
			c.Deprecated = true
		}
	}
	return nil
}

func (f *fakeContracts) Update(ctx context.Context, c *model.Contract) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	row := *c
	f.s.contracts[c.ID] = &row
	return nil
}

type fakeHistorical struct{ s *fakeStore }

func (f *fakeHistorical) BulkInsertIgnore(ctx context.Context, points []model.HistoricalFundingPoint) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, p := range points {
		dup := false
		for _, have := range f.s.historical[p.ContractID] {
			if have.Timestamp.Equal(p.Timestamp) {
				dup = true
				break
			}
		}
		if !dup {
			f.s.historical[p.ContractID] = append(f.s.historical[p.ContractID], p)
		}
	}
	return nil
}

func (f *fakeHistorical) GetOldestForContract(ctx context.Context, contractID uuid.UUID) (*time.Time, error) {
	return f.boundary(contractID, func(candidate, current time.Time) bool {
		return candidate.Before(current)
	}), nil
}

func (f *fakeHistorical) GetNewestForContract(ctx context.Context, contractID uuid.UUID) (*time.Time, error) {
	return f.boundary(contractID, func(candidate, current time.Time) bool {
		return candidate.After(current)
	}), nil
}

func (f *fakeHistorical) boundary(contractID uuid.UUID, better func(candidate, current time.Time) bool) *time.Time {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	rows := f.s.historical[contractID]
	if len(rows) == 0 {
		return nil
	}
	best := rows[0].Timestamp
	for _, p := range rows[1:] {
		if better(p.Timestamp, best) {
			best = p.Timestamp
		}
	}
	return &best
}

type fakeLive struct{ s *fakeStore }

func (f *fakeLive) BulkInsertIgnore(ctx context.Context, points []model.LiveFundingPoint) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.live = append(f.s.live, points...)
	return nil
}

// fakeAdapter is a scriptable exchange.Adapter.
type fakeAdapter struct {
	mu sync.Mutex

	infos    []exchange.ContractInfo
	infosErr error

	backPages   [][]exchange.FundingPoint
	beforeCalls []*time.Time

	afterPoints []exchange.FundingPoint
	afterErr    error
	afterCalls  []time.Time

	liveRates map[uuid.UUID]exchange.FundingPoint
	liveErr   error
	liveCalls int
}

func (a *fakeAdapter) ID() exchange.ID { return "testex" }

func (a *fakeAdapter) FetchStep() int { return 24 }

func (a *fakeAdapter) FormatSymbol(c *model.Contract) string { return c.Label() }

func (a *fakeAdapter) GetContracts(ctx context.Context) ([]exchange.ContractInfo, error) {
	return a.infos, a.infosErr
}

func (a *fakeAdapter) FetchHistoryBefore(ctx context.Context, c *model.Contract, before *time.Time) ([]exchange.FundingPoint, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if before == nil {
		a.beforeCalls = append(a.beforeCalls, nil)
	} else {
		t := *before
		a.beforeCalls = append(a.beforeCalls, &t)
	}
	if len(a.backPages) == 0 {
		return nil, nil
	}
	page := a.backPages[0]
	a.backPages = a.backPages[1:]
	return page, nil
}

func (a *fakeAdapter) FetchHistoryAfter(ctx context.Context, c *model.Contract, after time.Time) ([]exchange.FundingPoint, error) {
	a.mu.Lock()
	a.afterCalls = append(a.afterCalls, after)
	a.mu.Unlock()
	return a.afterPoints, a.afterErr
}

func (a *fakeAdapter) FetchLive(ctx context.Context, contracts []*model.Contract) (map[uuid.UUID]exchange.FundingPoint, error) {
	a.mu.Lock()
	a.liveCalls++
	a.mu.Unlock()
	return a.liveRates, a.liveErr
}

type fakeSignaler struct{ signals int }

func (f *fakeSignaler) Signal() { f.signals++ }

type fakePublisher struct {
	exchangeID string
	batches    [][]publisher.LiveRate
	err        error
}

func (f *fakePublisher) PublishLiveRates(ctx context.Context, exchangeID string, rates []publisher.LiveRate) error {
	f.exchangeID = exchangeID
	f.batches = append(f.batches, rates)
	return f.err
}
