package domain

const MaxGroupNameLen = 64

// Group is a chat group that group calls fan out to. Membership is managed
// elsewhere; calls only read it.
type Group struct {
	ID      GroupID  `json:"id"`
	Name    string   `json:"name"`
	Members []UserID `json:"members"`
}

func (g *Group) Has(uid UserID) bool {
	for _, m := range g.Members {
		if m == uid {
			return true
		}
	}
	return false
}
