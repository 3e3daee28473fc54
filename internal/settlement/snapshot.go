package settlement

import (
	"github.com/alanyoungcy/conviction/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Export copies the has-staked sets into st. The caller must hold the
// executor lock.
func (s *Settlement) Export(st *domain.State) {
	st.Staked = make(map[uint64][]common.Address, len(s.staked))
	for id, set := range s.staked {
		users := make([]common.Address, 0, len(set))
		for u := range set {
			users = append(users, u)
		}
		st.Staked[id] = users
	}
}

// Import replaces the has-staked sets with those in st. The caller must hold
// the executor lock.
func (s *Settlement) Import(st domain.State) {
	s.staked = make(map[uint64]map[common.Address]struct{}, len(st.Staked))
	for id, users := range st.Staked {
		set := make(map[common.Address]struct{}, len(users))
		for _, u := range users {
			set[u] = struct{}{}
		}
		s.staked[id] = set
	}
}
