package disclosure

import (
	"slices"
	"time"

	"github.com/fikriaf/ars-sub001/store"
)

// Transfer fields that may be disclosed.
const (
	FieldSender       = "sender"
	FieldRecipient    = "recipient"
	FieldAmount       = "amount"
	FieldTimestamp    = "timestamp"
	FieldTxSignature  = "txSignature"
	FieldCommitmentID = "commitmentId"
)

// keyMaterialFields are never disclosed to any role.
var keyMaterialFields = []string{"blindingFactor", "spendPrivateKey", "viewPrivateKey", "viewingKey"}

var transferFields = []string{FieldSender, FieldRecipient, FieldAmount, FieldTimestamp, FieldTxSignature, FieldCommitmentID}

var roleFields = map[store.Role][]string{
	store.RoleInternal:  {FieldSender, FieldRecipient, FieldAmount, FieldTimestamp},
	store.RoleExternal:  {FieldSender, FieldRecipient, FieldAmount, FieldTimestamp, FieldTxSignature},
	store.RoleRegulator: {FieldSender, FieldRecipient, FieldAmount, FieldTimestamp, FieldTxSignature},
	store.RoleMaster:    {FieldSender, FieldRecipient, FieldAmount, FieldTimestamp, FieldTxSignature},
}

// FieldsForRole returns the transfer fields role may see.
func FieldsForRole(role store.Role) []string {
	return slices.Clone(roleFields[role])
}

// hiddenFields lists every field not in disclosed, key material included.
func hiddenFields(disclosed []string) []string {
	var out []string
	for _, f := range transferFields {
		if !slices.Contains(disclosed, f) {
			out = append(out, f)
		}
	}
	return append(out, keyMaterialFields...)
}

// DisclosedTransfer is the decrypted view of a transfer. Fields outside the
// disclosure's scope are left empty.
type DisclosedTransfer struct {
	TransactionID string     `json:"transactionId"`
	Sender        string     `json:"sender,omitempty"`
	Recipient     string     `json:"recipient,omitempty"`
	Amount        *uint64    `json:"amount,omitempty"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
	TxSignature   string     `json:"txSignature,omitempty"`
}

func project(t *store.TransferRecord, fields []string) *DisclosedTransfer {
	d := &DisclosedTransfer{TransactionID: t.ID}
	for _, f := range fields {
		switch f {
		case FieldSender:
			d.Sender = t.Sender
		case FieldRecipient:
			d.Recipient = t.Recipient
		case FieldAmount:
			amount := t.Amount
			d.Amount = &amount
		case FieldTimestamp:
			ts := t.Timestamp
			d.Timestamp = &ts
		case FieldTxSignature:
			d.TxSignature = t.TxSignature
		}
	}
	return d
}
