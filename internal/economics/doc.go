// Package economics is the stake ledger state machine driven by cycle
// verdicts: publishers fund a per-CID stake, OK cycles pay monitoring
// rewards, consecutive breaches unlock an insurance payout, and publishers
// withdraw what is left once the CID is healthy again.
//
// Every transition runs inside a single store.Update. Transfers are pushed
// through a Transferer; if any push fails the whole transition is
// discarded.
package economics
