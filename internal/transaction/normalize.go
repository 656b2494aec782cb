package transaction

import (
	"fmt"
	"time"

	"github.com/lumapay/riskengine/internal/idgen"
	"github.com/lumapay/riskengine/internal/validation"
)

// Input is the raw analyze request before per-channel normalization.
type Input struct {
	ExternalID        string  `json:"externalId"`
	Channel           string  `json:"channel"`
	CPF               string  `json:"cpf"`
	Amount            float64 `json:"amount"`
	PaymentMethod     string  `json:"paymentMethod"`
	Installments      int     `json:"installments"`
	IP                string  `json:"ip"`
	DeviceFingerprint string  `json:"deviceFingerprint"`
	CardBIN           string  `json:"cardBin"`
	StoreID           string  `json:"storeId"`
	TerminalID        string  `json:"terminalId"`
	Portal            string  `json:"portal"`
	OccurredAt        string  `json:"occurredAt"` // RFC3339; empty means now
}

// Normalize validates the input and produces an immutable Transaction.
// Validation failures never create a Transaction: a malformed request is
// rejected up front, not silently defaulted.
func Normalize(in *Input, now time.Time) (*Transaction, error) {
	errs := validation.Validate(
		validation.Required("externalId", in.ExternalID),
		validation.MaxLength("externalId", in.ExternalID, 100),
		validation.Required("cpf", in.CPF),
		validation.ValidCPF("cpf", in.CPF),
		validation.OneOf("channel", in.Channel, string(ChannelPOS), string(ChannelAPP), string(ChannelWEB)),
		validation.PositiveAmount("amount", in.Amount),
		validation.ValidBIN("cardBin", in.CardBIN),
	)

	channel := Channel(in.Channel)
	switch channel {
	case ChannelWEB:
		// Browser traffic without a source IP cannot be risk-checked.
		errs = append(errs, validation.Validate(validation.Required("ip", in.IP))...)
	case ChannelAPP:
		errs = append(errs, validation.Validate(validation.Required("deviceFingerprint", in.DeviceFingerprint))...)
	case ChannelPOS:
		errs = append(errs, validation.Validate(
			validation.Required("terminalId", in.TerminalID),
			validation.Required("storeId", in.StoreID),
		)...)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, errs.Error())
	}

	occurredAt := now
	if in.OccurredAt != "" {
		t, err := time.Parse(time.RFC3339, in.OccurredAt)
		if err != nil {
			return nil, fmt.Errorf("%w: occurredAt must be RFC3339", ErrInvalid)
		}
		occurredAt = t
	}

	txn := &Transaction{
		ID:                idgen.WithPrefix("txn_"),
		ExternalID:        in.ExternalID,
		Channel:           channel,
		CPF:               in.CPF,
		Amount:            in.Amount,
		PaymentMethod:     validation.SanitizeString(in.PaymentMethod, 50),
		Installments:      in.Installments,
		IP:                validation.SanitizeString(in.IP, 45),
		DeviceFingerprint: validation.SanitizeString(in.DeviceFingerprint, 128),
		CardBIN:           in.CardBIN,
		StoreID:           validation.SanitizeString(in.StoreID, 50),
		TerminalID:        validation.SanitizeString(in.TerminalID, 50),
		Portal:            validation.SanitizeString(in.Portal, 50),
		OccurredAt:        occurredAt,
		CreatedAt:         now,
	}

	if txn.Installments < 1 {
		txn.Installments = 1
	}

	// POS terminals have no meaningful device fingerprint; drop any passed in
	// so the first-device rule never fires on terminal noise.
	if channel == ChannelPOS {
		txn.DeviceFingerprint = ""
	}

	return txn, nil
}

// MaskedCPF returns the transaction's CPF safe for responses and logs.
func (t *Transaction) MaskedCPF() string {
	return validation.MaskCPF(t.CPF)
}
