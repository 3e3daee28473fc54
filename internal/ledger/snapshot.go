package ledger

import (
	"sort"

	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Export copies the ledger into st. The caller must hold the executor lock.
func (l *Ledger) Export(st *domain.State) {
	st.NextTokenID = l.nextID
	st.Positions = make([]domain.Position, 0, len(l.tokens))
	for _, pos := range l.tokens {
		st.Positions = append(st.Positions, pos.Clone())
	}
	sort.Slice(st.Positions, func(i, j int) bool { return st.Positions[i].TokenID < st.Positions[j].TokenID })

	st.Approvals = make(map[uint64]common.Address, len(l.approvals))
	for id, spender := range l.approvals {
		st.Approvals[id] = spender
	}
	st.Operators = make(map[common.Address][]common.Address, len(l.operators))
	for owner, set := range l.operators {
		for op := range set {
			st.Operators[owner] = append(st.Operators[owner], op)
		}
	}
}

// Import replaces the ledger contents with st. The caller must hold the
// executor lock.
func (l *Ledger) Import(st domain.State) {
	l.nextID = st.NextTokenID
	if l.nextID == 0 {
		l.nextID = 1
	}
	l.tokens = make(map[uint64]domain.Position, len(st.Positions))
	l.owned = make(map[common.Address]map[uint64]struct{})
	for _, pos := range st.Positions {
		l.tokens[pos.TokenID] = pos.Clone()
		set := l.owned[pos.Owner]
		if set == nil {
			set = make(map[uint64]struct{})
			l.owned[pos.Owner] = set
		}
		set[pos.TokenID] = struct{}{}
	}
	l.approvals = make(map[uint64]common.Address, len(st.Approvals))
	for id, spender := range st.Approvals {
		l.approvals[id] = spender
	}
	l.operators = make(map[common.Address]map[common.Address]struct{})
	for owner, ops := range st.Operators {
		for _, op := range ops {
			l.setOperator(owner, op, true)
		}
	}
}
