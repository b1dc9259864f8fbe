package qry

import (
	"encoding/base64"
	"encoding/json"

	"github.com/mb0/resq/exp"
)

// Token is the self-describing continuation state of one paginated node. It carries the
// originating projection, filter and sort in client terms alongside the next offset, so a
// follow-up request needs no server-side session state: the token alone rebuilds the node.
type Token struct {
	Path string        `json:"path,omitempty"`
	Take []string      `json:"take,omitempty"`
	Whr  []interface{} `json:"where,omitempty"`
	Ord  []Ord         `json:"sort,omitempty"`
	Size int           `json:"size"`
	Off  int64         `json:"offset"`
}

// Encode returns the opaque token string.
func (t *Token) Encode() (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeToken decodes an opaque token string.
func DecodeToken(s string) (*Token, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ParseErrf("invalid page token: %v", err)
	}
	var t Token
	err = json.Unmarshal(b, &t)
	if err != nil {
		return nil, ParseErrf("invalid page token: %v", err)
	}
	return &t, nil
}

// apply replaces the client parameters of the token's node path, so the follow-up request
// reproduces the originating filter, sort and projection. Access rules are re-resolved when
// the rebuilt tree is annotated.
func (t *Token) apply(ss States) error {
	s := ss.state(t.Path)
	s.Take = t.Take
	s.Ord = t.Ord
	s.Size = t.Size
	s.Off = t.Off
	s.Token = ""
	s.Whr = nil
	for _, w := range t.Whr {
		s.Whr = append(s.Whr, exp.FromVal(w))
	}
	return nil
}

// nextToken captures the continuation state of a node after fetching one page.
func nextToken(n *Node) (string, error) {
	t := Token{Path: n.Path, Size: n.Size, Off: n.Off + int64(n.Size)}
	if s := n.state; s != nil {
		t.Take = s.Take
		t.Ord = s.Ord
		for _, w := range s.Whr {
			t.Whr = append(t.Whr, exp.Unparse(w))
		}
	}
	return t.Encode()
}
