package market

import "github.com/alanyoungcy/conviction/internal/domain"

// Export copies the registry into st. The caller must hold the executor lock.
func (r *Registry) Export(st *domain.State) {
	st.Config = r.cfg.Clone()
	st.NextMarketID = r.nextID
	st.Markets = make([]domain.Market, 0, len(r.order))
	for _, id := range r.order {
		st.Markets = append(st.Markets, r.markets[id].Clone())
	}
}

// Import replaces the registry contents with st. The caller must hold the
// executor lock.
func (r *Registry) Import(st domain.State) {
	r.cfg = st.Config.Clone()
	r.nextID = st.NextMarketID
	if r.nextID == 0 {
		r.nextID = 1
	}
	r.markets = make(map[uint64]*domain.Market, len(st.Markets))
	r.order = make([]uint64, 0, len(st.Markets))
	for _, m := range st.Markets {
		c := m.Clone()
		r.markets[c.ID] = &c
		r.order = append(r.order, c.ID)
	}
}
