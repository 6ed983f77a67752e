// Package memstore is an in-memory implementation of the storage
// interfaces. It backs --dry-run imports and the tests.
package memstore

import (
	"context"
	"errors"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"laundromat-importer/packages/domain"
	"laundromat-importer/packages/metrics"
	"laundromat-importer/packages/transform"
	"laundromat-importer/packages/writer"
)

var ErrNotFound = errors.New("laundromat not found")

type State struct {
	ID    int64
	Code  string
	Count int
}

type City struct {
	ID      int64
	StateID int64
	Name    string
	Count   int
}

type Laundromat struct {
	ID         int64
	NaturalKey string
	StateID    int64
	CityID     int64
	Record     domain.EnrichedRecord
	Nearby     *domain.NearbyPlaces
}

type dataset struct {
	states      map[string]State
	cities      map[string]City
	laundromats map[int64]Laundromat
	nextID      int64
}

func (d *dataset) clone() *dataset {
	return &dataset{
		states:      maps.Clone(d.states),
		cities:      maps.Clone(d.cities),
		laundromats: maps.Clone(d.laundromats),
		nextID:      d.nextID,
	}
}

// Store is safe for concurrent use; transactions are serialized.
type Store struct {
	mu   sync.Mutex
	data *dataset

	// FailInsert, when set, is consulted before every laundromat insert so
	// tests can force a rollback.
	FailInsert func(row writer.Row) error
}

func New() *Store {
	return &Store{data: &dataset{
		states:      map[string]State{},
		cities:      map[string]City{},
		laundromats: map[int64]Laundromat{},
	}}
}

// InTx runs fn against a copy of the data and swaps it in only when fn
// succeeds.
func (s *Store) InTx(ctx context.Context, fn func(tx writer.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := &tx{store: s, data: s.data.clone()}
	if err := fn(work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.data = work.data
	return nil
}

type tx struct {
	store *Store
	data  *dataset
}

func (t *tx) newID() int64 {
	t.data.nextID++
	return t.data.nextID
}

func (t *tx) EnsureState(_ context.Context, code string) (int64, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if st, ok := t.data.states[code]; ok {
		return st.ID, nil
	}
	st := State{ID: t.newID(), Code: code}
	t.data.states[code] = st
	return st.ID, nil
}

func cityKey(stateID int64, name string) string {
	return transform.SequenceToken(stateID) + "/" + transform.Slugify(name)
}

func (t *tx) EnsureCity(_ context.Context, stateID int64, name string) (int64, error) {
	key := cityKey(stateID, name)
	if c, ok := t.data.cities[key]; ok {
		return c.ID, nil
	}
	c := City{ID: t.newID(), StateID: stateID, Name: strings.TrimSpace(name)}
	t.data.cities[key] = c
	return c.ID, nil
}

func (t *tx) FindByNaturalKey(_ context.Context, key string) (int64, bool, error) {
	for id, l := range t.data.laundromats {
		if l.NaturalKey == key {
			return id, true, nil
		}
	}
	return 0, false, nil
}

func (t *tx) SlugExists(_ context.Context, slug string) (bool, error) {
	for _, l := range t.data.laundromats {
		if l.Record.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertLaundromat(ctx context.Context, row writer.Row) (int64, bool, error) {
	if t.store.FailInsert != nil {
		if err := t.store.FailInsert(row); err != nil {
			return 0, false, err
		}
	}
	if _, found, _ := t.FindByNaturalKey(ctx, row.NaturalKey); found {
		return 0, false, nil
	}
	id := t.newID()
	t.data.laundromats[id] = Laundromat{
		ID:         id,
		NaturalKey: row.NaturalKey,
		StateID:    row.StateID,
		CityID:     row.CityID,
		Record:     row.Record,
	}
	return id, true, nil
}

func (t *tx) IncrementCounters(_ context.Context, stateID, cityID int64) error {
	for k, st := range t.data.states {
		if st.ID == stateID {
			st.Count++
			t.data.states[k] = st
		}
	}
	for k, c := range t.data.cities {
		if c.ID == cityID {
			c.Count++
			t.data.cities[k] = c
		}
	}
	return nil
}

// RecomputeCounters rebuilds every counter from the stored rows.
func (s *Store) RecomputeCounters(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stateCounts := map[int64]int{}
	cityCounts := map[int64]int{}
	for _, l := range s.data.laundromats {
		stateCounts[l.StateID]++
		cityCounts[l.CityID]++
	}
	for k, st := range s.data.states {
		st.Count = stateCounts[st.ID]
		s.data.states[k] = st
	}
	for k, c := range s.data.cities {
		c.Count = cityCounts[c.ID]
		s.data.cities[k] = c
	}
	return nil
}

// SetStateCount overwrites a state counter, simulating drift.
func (s *Store) SetStateCount(code string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code = strings.ToUpper(code)
	if st, ok := s.data.states[code]; ok {
		st.Count = n
		s.data.states[code] = st
	}
}

func (s *Store) State(code string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.data.states[strings.ToUpper(code)]
	return st, ok
}

func (s *Store) Cities() []City {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]City, 0, len(s.data.cities))
	for _, c := range s.data.cities {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Laundromats returns all rows in id order.
func (s *Store) Laundromats() []Laundromat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

func (s *Store) sortedLocked() []Laundromat {
	out := make([]Laundromat, 0, len(s.data.laundromats))
	for _, l := range s.data.laundromats {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) listing(l Laundromat) domain.Listing {
	src := l.Record.Source
	return domain.Listing{
		ID:        l.ID,
		Name:      src.Name,
		Address:   src.Address,
		City:      src.City,
		State:     src.State,
		Zip:       src.Zip,
		Latitude:  src.Latitude,
		Longitude: src.Longitude,
		HasCoords: src.HasCoords,
	}
}

func (s *Store) fetch(afterID int64, limit int, pending func(Laundromat) bool) []domain.Listing {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Listing
	for _, l := range s.sortedLocked() {
		if l.ID <= afterID || !pending(l) {
			continue
		}
		out = append(out, s.listing(l))
		if len(out) == limit {
			break
		}
	}
	return out
}

func (s *Store) count(pending func(Laundromat) bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, l := range s.data.laundromats {
		if pending(l) {
			n++
		}
	}
	return n
}

func needsNearby(l Laundromat) bool { return l.Nearby == nil }

func needsAddress(l Laundromat) bool {
	return strings.TrimSpace(l.Record.Source.Address) == "" && l.Record.Source.HasCoords
}

func (s *Store) FetchPendingNearby(_ context.Context, afterID int64, limit int) ([]domain.Listing, error) {
	return s.fetch(afterID, limit, needsNearby), nil
}

func (s *Store) CountPendingNearby(_ context.Context) (int64, error) {
	return s.count(needsNearby), nil
}

func (s *Store) SaveNearbyPlaces(_ context.Context, id int64, places domain.NearbyPlaces) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.data.laundromats[id]
	if !ok {
		return ErrNotFound
	}
	if places.UpdatedAt.IsZero() {
		places.UpdatedAt = time.Now().UTC()
	}
	l.Nearby = &places
	s.data.laundromats[id] = l
	return nil
}

func (s *Store) FetchMissingAddress(_ context.Context, afterID int64, limit int) ([]domain.Listing, error) {
	return s.fetch(afterID, limit, needsAddress), nil
}

func (s *Store) CountMissingAddress(_ context.Context) (int64, error) {
	return s.count(needsAddress), nil
}

// UpdateAddress fills the street address and fills zip only when empty.
func (s *Store) UpdateAddress(_ context.Context, id int64, addr domain.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.data.laundromats[id]
	if !ok {
		return ErrNotFound
	}
	l.Record.Source.Address = addr.Street
	if l.Record.Source.Zip == "" {
		l.Record.Source.Zip = addr.PostalCode
	}
	s.data.laundromats[id] = l
	return nil
}

// Seed inserts a listing directly, bypassing the writer.
func (s *Store) Seed(rec domain.EnrichedRecord) int64 {
	var id int64
	_ = s.InTx(context.Background(), func(wtx writer.Tx) error {
		t := wtx.(*tx)
		stateID, _ := t.EnsureState(context.Background(), rec.Source.State)
		cityID, _ := t.EnsureCity(context.Background(), stateID, rec.Source.City)
		id, _, _ = t.InsertLaundromat(context.Background(), writer.Row{
			Record:     rec,
			NaturalKey: rec.Source.NaturalKey().String(),
			StateID:    stateID,
			CityID:     cityID,
		})
		return t.IncrementCounters(context.Background(), stateID, cityID)
	})
	return id
}

func (s *Store) RefreshGauges(context.Context) error {
	s.mu.Lock()
	total := len(s.data.laundromats)
	s.mu.Unlock()
	metrics.TotalLaundromats.Set(float64(total))
	metrics.PendingNearby.Set(float64(s.count(needsNearby)))
	return nil
}
