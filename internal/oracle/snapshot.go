package oracle

import (
	"sort"

	"github.com/alanyoungcy/conviction/internal/domain"
)

// Export copies the registrations into st. The caller must hold the
// executor lock.
func (r *Resolver) Export(st *domain.State) {
	st.Oracles = make([]domain.OracleRegistration, 0, len(r.regs))
	for _, reg := range r.regs {
		reg.Oracle.Threshold = domain.CopyIntOrNil(reg.Oracle.Threshold)
		st.Oracles = append(st.Oracles, reg)
	}
	sort.Slice(st.Oracles, func(i, j int) bool { return st.Oracles[i].MarketID < st.Oracles[j].MarketID })
}

// Import replaces the registrations with those in st. The caller must hold
// the executor lock.
func (r *Resolver) Import(st domain.State) {
	r.regs = make(map[uint64]domain.OracleRegistration, len(st.Oracles))
	for _, reg := range st.Oracles {
		reg.Oracle.Threshold = domain.CopyIntOrNil(reg.Oracle.Threshold)
		r.regs[reg.MarketID] = reg
	}
}
