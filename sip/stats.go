package sip

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sippet/go-sippet/message"
)

// StatsReport is a point-in-time snapshot of the network layer statistics.
type StatsReport struct {
	Time         time.Time        `json:"time"`
	Channels     []ChannelStats   `json:"channels"`
	Transactions TransactionStats `json:"transactions"`
}

// ChannelStats counts messages exchanged over one channel.
type ChannelStats struct {
	// Destination is the channel destination endpoint.
	Destination string `json:"destination"`
	// RequestsReceived is a number of received requests.
	RequestsReceived uint64 `json:"requests_received"`
	// RequestsSent is a number of sent requests.
	RequestsSent uint64 `json:"requests_sent"`
	// ResponsesReceived is a number of received responses.
	ResponsesReceived uint64 `json:"responses_received"`
	// ResponsesSent is a number of sent responses.
	ResponsesSent uint64 `json:"responses_sent"`
}

// TransactionStats counts active and total transactions per variant.
type TransactionStats struct {
	// InviteClientTransactions is a number of active INVITE client transactions.
	InviteClientTransactions int64 `json:"invite_client_transactions"`
	// NonInviteClientTransactions is a number of active non-INVITE client transactions.
	NonInviteClientTransactions int64 `json:"non_invite_client_transactions"`
	// InviteServerTransactions is a number of active INVITE server transactions.
	InviteServerTransactions int64 `json:"invite_server_transactions"`
	// NonInviteServerTransactions is a number of active non-INVITE server transactions.
	NonInviteServerTransactions int64 `json:"non_invite_server_transactions"`
	// InviteClientTransactionsTotal is a total number of created INVITE client transactions.
	InviteClientTransactionsTotal uint64 `json:"invite_client_transactions_total"`
	// NonInviteClientTransactionsTotal is a total number of created non-INVITE client transactions.
	NonInviteClientTransactionsTotal uint64 `json:"non_invite_client_transactions_total"`
	// InviteServerTransactionsTotal is a total number of created INVITE server transactions.
	InviteServerTransactionsTotal uint64 `json:"invite_server_transactions_total"`
	// NonInviteServerTransactionsTotal is a total number of created non-INVITE server transactions.
	NonInviteServerTransactionsTotal uint64 `json:"non_invite_server_transactions_total"`
}

// StatsRecorder records message and transaction statistics.
type StatsRecorder struct {
	chanStats
	transactStats
}

type chanStats struct {
	stats sync.Map // map[string]*channelCounters, keyed by EndPoint.Key()
}

type channelCounters struct {
	inReqs,
	inRess,
	outReqs,
	outRess atomic.Uint64
}

func (s *chanStats) counters(key string) *channelCounters {
	if v, ok := s.stats.Load(key); ok {
		return v.(*channelCounters) //nolint:forcetypeassert
	}
	v, _ := s.stats.LoadOrStore(key, new(channelCounters))
	return v.(*channelCounters) //nolint:forcetypeassert
}

func (s *chanStats) recordReceived(key string, msg *message.Message) {
	if s == nil {
		return
	}
	c := s.counters(key)
	if msg.IsRequest() {
		c.inReqs.Add(1)
	} else {
		c.inRess.Add(1)
	}
}

func (s *chanStats) recordSent(key string, msg *message.Message) {
	if s == nil {
		return
	}
	c := s.counters(key)
	if msg.IsRequest() {
		c.outReqs.Add(1)
	} else {
		c.outRess.Add(1)
	}
}

type transactStats struct {
	invClnTxs,
	invSrvTxs,
	ninvClnTxs,
	ninvSrvTxs atomic.Int64

	invClnTxsTotal,
	invSrvTxsTotal,
	ninvClnTxsTotal,
	ninvSrvTxsTotal atomic.Uint64
}

func (s *transactStats) transactionOpened(typ TransactionType) {
	if s == nil {
		return
	}
	switch typ {
	case TransactionTypeClientInvite:
		s.invClnTxs.Add(1)
		s.invClnTxsTotal.Add(1)
	case TransactionTypeClientNonInvite:
		s.ninvClnTxs.Add(1)
		s.ninvClnTxsTotal.Add(1)
	case TransactionTypeServerInvite:
		s.invSrvTxs.Add(1)
		s.invSrvTxsTotal.Add(1)
	case TransactionTypeServerNonInvite:
		s.ninvSrvTxs.Add(1)
		s.ninvSrvTxsTotal.Add(1)
	}
}

func (s *transactStats) transactionClosed(typ TransactionType) {
	if s == nil {
		return
	}
	switch typ {
	case TransactionTypeClientInvite:
		s.invClnTxs.Add(-1)
	case TransactionTypeClientNonInvite:
		s.ninvClnTxs.Add(-1)
	case TransactionTypeServerInvite:
		s.invSrvTxs.Add(-1)
	case TransactionTypeServerNonInvite:
		s.ninvSrvTxs.Add(-1)
	}
}

// Report returns a statistics snapshot. Call it periodically to get updated
// values.
func (rcdr *StatsRecorder) Report() StatsReport {
	report := StatsReport{
		Time: time.Now(),
	}

	rcdr.stats.Range(func(key, value any) bool {
		c, ok := value.(*channelCounters)
		if !ok {
			return true
		}
		report.Channels = append(report.Channels, ChannelStats{
			Destination:       key.(string), //nolint:forcetypeassert
			RequestsReceived:  c.inReqs.Load(),
			RequestsSent:      c.outReqs.Load(),
			ResponsesReceived: c.inRess.Load(),
			ResponsesSent:     c.outRess.Load(),
		})
		return true
	})

	report.Transactions = TransactionStats{
		InviteClientTransactions:         rcdr.invClnTxs.Load(),
		NonInviteClientTransactions:      rcdr.ninvClnTxs.Load(),
		InviteServerTransactions:         rcdr.invSrvTxs.Load(),
		NonInviteServerTransactions:      rcdr.ninvSrvTxs.Load(),
		InviteClientTransactionsTotal:    rcdr.invClnTxsTotal.Load(),
		NonInviteClientTransactionsTotal: rcdr.ninvClnTxsTotal.Load(),
		InviteServerTransactionsTotal:    rcdr.invSrvTxsTotal.Load(),
		NonInviteServerTransactionsTotal: rcdr.ninvSrvTxsTotal.Load(),
	}
	return report
}
