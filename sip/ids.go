package sip

import (
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/sippet/go-sippet/internal/util"
	"github.com/sippet/go-sippet/message"
)

// BranchMagicCookie starts every RFC 3261 compliant Via branch parameter.
const BranchMagicCookie = "z9hG4bK"

// IsRFC3261Branch reports whether the branch carries the RFC 3261 magic
// cookie.
func IsRFC3261Branch(branch string) bool {
	return strings.HasPrefix(branch, BranchMagicCookie)
}

// BranchFactory produces Via branch parameters for outgoing requests.
type BranchFactory = func() string

// GenerateBranch returns a new random RFC 3261 branch parameter.
func GenerateBranch() string {
	return BranchMagicCookie + util.RandString(22)
}

const errorMissingBranch Error = "missing Via branch"

// ClientTransactionID derives the client transaction identifier of the
// message: the topmost Via branch plus the request method. For responses
// the method comes from the CSeq header, so responses match the request
// that created the transaction.
func ClientTransactionID(m *message.Message) (string, error) {
	via, err := m.TopVia()
	if err != nil {
		return "", errtrace.Wrap(err)
	}
	branch := via.Branch()
	if branch == "" {
		return "", errtrace.Wrap(errorMissingBranch)
	}

	method := m.Method()
	if m.IsResponse() {
		_, method = m.GetCSeq()
	}
	if method == "" {
		return "", errtrace.Wrap(NewInvalidArgumentError("missing CSeq method"))
	}

	return "c:" + branch + ":" + util.UCase(method), nil
}

// ServerTransactionID derives the server transaction identifier of the
// message, implementing the matching rules of RFC 3261 section 17.2.3.
// An RFC 3261 branch yields a branch plus sent-by plus method key; requests
// without the magic cookie fall back to the RFC 2543 form built from the
// To/From tags, Call-ID, CSeq and the topmost Via. ACK folds into the
// INVITE it acknowledges in both forms.
func ServerTransactionID(m *message.Message) (string, error) {
	via, err := m.TopVia()
	if err != nil {
		return "", errtrace.Wrap(err)
	}

	method := m.Method()
	if m.IsResponse() {
		_, method = m.GetCSeq()
	}
	method = util.UCase(method)
	if method == "" {
		return "", errtrace.Wrap(NewInvalidArgumentError("missing CSeq method"))
	}
	isAck := method == message.MethodAck
	if isAck {
		method = message.MethodInvite
	}

	branch := via.Branch()
	if IsRFC3261Branch(branch) {
		return "s:" + branch + ":" + util.LCase(via.SentBy()) + ":" + method, nil
	}

	to, _ := m.GetTo()
	from, _ := m.GetFrom()
	callID, _ := m.GetNormalizedHeader("call-id")
	seq, _ := m.GetCSeq()

	// The INVITE that opened the transaction carried no To tag, so the ACK
	// acknowledging its final response must not contribute one either.
	toTag := to.Tag()
	if isAck {
		toTag = ""
	}

	return "s:" + toTag + ":" + from.Tag() + ":" + callID + ":" +
		strconv.FormatInt(seq, 10) + ":" + method + ":" +
		util.LCase(via.SentBy()) + ":" + branch, nil
}
