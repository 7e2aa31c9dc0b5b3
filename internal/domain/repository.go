package domain

// Repository identifies a GitHub repository by its (owner, name) pair.
type Repository struct {
	Owner     string `json:"owner"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"isPrivate"`
}

// Key returns the canonical "owner/name" identifier.
func (r Repository) Key() string {
	return r.Owner + "/" + r.Name
}

// CommitRef is one authored commit within a repository. Membership is keyed
// per repository even though SHAs are unique in practice.
type CommitRef struct {
	Repo Repository
	SHA  string
}
