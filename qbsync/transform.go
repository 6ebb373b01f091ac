package qbsync

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/books_qbsync/models"
	"github.com/shopspring/decimal"
)

// Wire payload types for the QuickBooks create endpoints. Only the minimal
// required fields plus optionals that are actually present on the record.

type ReferenceType struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

type MemoRef struct {
	Value string `json:"value"`
}

type SalesItemLineDetail struct {
	ItemRef   *ReferenceType `json:"ItemRef,omitempty"`
	Qty       float64        `json:"Qty,omitempty"`
	UnitPrice float64        `json:"UnitPrice,omitempty"`
}

type InvoiceLine struct {
	Amount              float64              `json:"Amount"`
	DetailType          string               `json:"DetailType"`
	Description         string               `json:"Description,omitempty"`
	SalesItemLineDetail *SalesItemLineDetail `json:"SalesItemLineDetail,omitempty"`
}

type InvoicePayload struct {
	CustomerRef  ReferenceType `json:"CustomerRef"`
	Line         []InvoiceLine `json:"Line"`
	DocNumber    string        `json:"DocNumber,omitempty"`
	TxnDate      string        `json:"TxnDate,omitempty"`
	DueDate      string        `json:"DueDate,omitempty"`
	CustomerMemo *MemoRef      `json:"CustomerMemo,omitempty"`
}

type LinkedTxn struct {
	TxnId   string `json:"TxnId"`
	TxnType string `json:"TxnType"`
}

type PaymentLine struct {
	Amount    float64     `json:"Amount"`
	LinkedTxn []LinkedTxn `json:"LinkedTxn"`
}

type PaymentPayload struct {
	CustomerRef         ReferenceType  `json:"CustomerRef"`
	TotalAmt            float64        `json:"TotalAmt"`
	TxnDate             string         `json:"TxnDate,omitempty"`
	PaymentRefNum       string         `json:"PaymentRefNum,omitempty"`
	PrivateNote         string         `json:"PrivateNote,omitempty"`
	DepositToAccountRef *ReferenceType `json:"DepositToAccountRef,omitempty"`
	Line                []PaymentLine  `json:"Line,omitempty"`
}

// InvoiceRefResolver reads an invoice's current remote id; payments must not
// trust their cached linkage because the invoice may have been synced after
// the payment was recorded.
type InvoiceRefResolver interface {
	QuickbooksIdFor(ctx context.Context, id uint) (string, error)
}

type Transformer struct {
	invoices InvoiceRefResolver
}

func NewTransformer(invoices InvoiceRefResolver) *Transformer {
	return &Transformer{invoices: invoices}
}

// InvoicePayload builds the wire payload for an invoice. Every detail line is
// included (item, tax and adjustment lines alike) and the line sum must equal
// the recorded total; a mismatch fails the transform instead of submitting a
// payload whose total silently disagrees with the books.
func (t *Transformer) InvoicePayload(inv *models.SalesInvoice) (*InvoicePayload, error) {
	if strings.TrimSpace(inv.QuickbooksCustomerId) == "" {
		return nil, &ValidationError{Reason: "invoice has no quickbooks customer reference"}
	}
	if len(inv.Details) == 0 {
		return nil, &ValidationError{Reason: "invoice has no detail lines"}
	}

	lineSum := decimal.Zero
	lines := make([]InvoiceLine, 0, len(inv.Details))
	for _, detail := range inv.Details {
		lineSum = lineSum.Add(detail.DetailAmount)

		line := InvoiceLine{
			Amount:      detail.DetailAmount.InexactFloat64(),
			DetailType:  "SalesItemLineDetail",
			Description: detail.Name,
		}
		itemDetail := &SalesItemLineDetail{}
		if strings.TrimSpace(detail.QuickbooksItemId) != "" {
			itemDetail.ItemRef = &ReferenceType{Value: detail.QuickbooksItemId, Name: detail.Name}
		}
		if detail.LineType == models.LineTypeItem {
			itemDetail.Qty = detail.DetailQty.InexactFloat64()
			itemDetail.UnitPrice = detail.DetailUnitRate.InexactFloat64()
		}
		line.SalesItemLineDetail = itemDetail
		lines = append(lines, line)
	}

	if !lineSum.Equal(inv.InvoiceTotalAmount) {
		return nil, &AmountMismatchError{
			Total:   inv.InvoiceTotalAmount.String(),
			LineSum: lineSum.String(),
		}
	}

	payload := &InvoicePayload{
		CustomerRef: ReferenceType{Value: inv.QuickbooksCustomerId, Name: inv.CustomerName},
		Line:        lines,
		DocNumber:   inv.InvoiceNumber,
		TxnDate:     formatDate(inv.InvoiceDate),
	}
	if inv.DueDate != nil {
		payload.DueDate = formatDate(*inv.DueDate)
	}
	if strings.TrimSpace(inv.Notes) != "" {
		payload.CustomerMemo = &MemoRef{Value: inv.Notes}
	}
	return payload, nil
}

// PaymentPayload builds the wire payload for a payment. The linked invoice's
// remote id is resolved in order: live invoice state, the precomputed linked
// transaction list, and finally the cached id on the payment itself.
func (t *Transformer) PaymentPayload(ctx context.Context, pmt *models.CustomerPayment) (*PaymentPayload, error) {
	if strings.TrimSpace(pmt.QuickbooksCustomerId) == "" {
		return nil, &ValidationError{Reason: "payment has no quickbooks customer reference"}
	}
	if pmt.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, &ValidationError{Reason: "payment amount must be positive"}
	}

	linked, err := t.resolveLinkedTxns(ctx, pmt)
	if err != nil {
		return nil, err
	}

	payload := &PaymentPayload{
		CustomerRef: ReferenceType{Value: pmt.QuickbooksCustomerId},
		TotalAmt:    pmt.Amount.InexactFloat64(),
		TxnDate:     formatDate(pmt.PaymentDate),
		Line: []PaymentLine{{
			Amount:    pmt.Amount.InexactFloat64(),
			LinkedTxn: linked,
		}},
	}
	if strings.TrimSpace(pmt.ReferenceNumber) != "" {
		payload.PaymentRefNum = pmt.ReferenceNumber
	}
	if strings.TrimSpace(pmt.Notes) != "" {
		payload.PrivateNote = pmt.Notes
	}
	if strings.TrimSpace(pmt.DepositAccountRef) != "" {
		payload.DepositToAccountRef = &ReferenceType{Value: pmt.DepositAccountRef}
	}
	return payload, nil
}

func (t *Transformer) resolveLinkedTxns(ctx context.Context, pmt *models.CustomerPayment) ([]LinkedTxn, error) {
	if pmt.InvoiceId != 0 {
		qbId, err := t.invoices.QuickbooksIdFor(ctx, pmt.InvoiceId)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(qbId) != "" {
			return []LinkedTxn{{TxnId: qbId, TxnType: "Invoice"}}, nil
		}
	}

	if len(pmt.LinkedTxnsJSON) > 0 {
		var linked []LinkedTxn
		if err := json.Unmarshal(pmt.LinkedTxnsJSON, &linked); err == nil && len(linked) > 0 {
			return linked, nil
		}
	}

	if strings.TrimSpace(pmt.CachedQuickbooksInvoiceId) != "" {
		return []LinkedTxn{{TxnId: pmt.CachedQuickbooksInvoiceId, TxnType: "Invoice"}}, nil
	}

	return nil, &ValidationError{Reason: "linked invoice has not been synced to quickbooks"}
}

func formatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
