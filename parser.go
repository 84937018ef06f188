package main

import (
	"regexp"
	"strings"
)

// MsgKind classifies the free text of a decode.
type MsgKind int

const (
	// KindReply is a directed call, "TO FROM ...".
	KindReply MsgKind = iota + 1
	// KindCQ is a general call, with or without an extra tag and grid.
	KindCQ
)

func (k MsgKind) String() string {
	switch k {
	case KindReply:
		return "REPLY"
	case KindCQ:
		return "CQ"
	}
	return "NONE"
}

// Message is the parsed form of a decode's free text. To is set only for
// replies; Extra and Grid only for CQ calls that carry them.
type Message struct {
	Kind  MsgKind
	To    string
	Call  string
	Extra string
	Grid  string
}

var (
	replyRE    = regexp.MustCompile(`^(\w+)(?:/\w+)? (\w+)(?:/\w+)? .*`)
	cqRE       = regexp.MustCompile(`^CQ\s(?:CQ\s|([\S.]+)\s|)(\w+(?:/\w+)?)\s([A-Z]{2}[0-9]{2})`)
	brokenCQRE = regexp.MustCompile(`^CQ\s(\w+(?:/\w+)?)$`)
)

// parseMessage classifies an on-air message, first match wins. A
// directed call whose addressee starts with CQ is not a reply, it falls
// through to the CQ forms. A CQ without a grid comes back as a CQ with
// the extra and grid left empty. Anything else returns nil.
func parseMessage(text string) *Message {
	if m := replyRE.FindStringSubmatch(text); m != nil && !strings.HasPrefix(m[1], "CQ") {
		return &Message{Kind: KindReply, To: m[1], Call: m[2]}
	}
	if m := cqRE.FindStringSubmatch(text); m != nil {
		return &Message{Kind: KindCQ, Extra: m[1], Call: m[2], Grid: m[3]}
	}
	if m := brokenCQRE.FindStringSubmatch(text); m != nil {
		return &Message{Kind: KindCQ, Call: m[1]}
	}
	return nil
}
