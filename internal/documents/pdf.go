// Package documents renders invoice intents into printable PDFs. The
// layout mirrors the invoice the storefront has always produced: header,
// invoice-number band, issue/payment columns, seller and bill-to blocks,
// status band, line-item table, totals.
package documents

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/hubbridge/hubbridge-backend/internal/invoices"
	pkgerrors "github.com/hubbridge/hubbridge-backend/pkg/errors"
	"github.com/hubbridge/hubbridge-backend/pkg/money"
)

const (
	pageMargin = 21.0
	bandHeight = 22.0
	lineHeight = 14.0
	columnGap  = 30.0
	accentR    = 52
	accentG    = 213
	accentB    = 179
	softGray   = 245
	textR      = 21
	textG      = 30
	textB      = 33
)

// PDFGenerator renders invoices with fpdf.
type PDFGenerator struct{}

// NewPDFGenerator returns the production document generator.
func NewPDFGenerator() *PDFGenerator {
	return &PDFGenerator{}
}

var _ invoices.DocumentGenerator = (*PDFGenerator)(nil)

// Render produces the PDF bytes for one invoice intent.
func (g *PDFGenerator) Render(_ context.Context, intent invoices.Intent) ([]byte, error) {
	doc := fpdf.New("P", "pt", "Letter", "")
	doc.SetMargins(pageMargin, pageMargin, pageMargin)
	doc.SetAutoPageBreak(true, pageMargin)
	doc.AddPage()

	pageWidth, _ := doc.GetPageSize()
	contentWidth := pageWidth - pageMargin*2
	columnWidth := (contentWidth - columnGap) / 2

	doc.SetTextColor(textR, textG, textB)

	// Title
	doc.SetFont("Helvetica", "B", 18)
	doc.CellFormat(contentWidth, 24, "Invoice", "", 1, "L", false, 0, "")
	doc.Ln(10)

	// Invoice number band
	doc.SetFillColor(accentR, accentG, accentB)
	doc.SetFont("Helvetica", "B", 12)
	doc.CellFormat(contentWidth, bandHeight, "Invoice Number: "+intent.Number.String(), "", 1, "L", true, 0, "")
	doc.Ln(8)

	// Dates on the left, payment details on the right
	leftLines := []string{
		"Issue Date: " + formatDate(intent.IssueDate),
		"Due Date: " + formatDate(intent.DueDate),
	}
	rightLines := []string{}
	if intent.StatementDescriptor != "" {
		rightLines = append(rightLines, "Statement Descriptor: "+intent.StatementDescriptor)
	}
	if intent.PaymentID != "" {
		rightLines = append(rightLines, "Payment ID: "+intent.PaymentID)
	}
	if intent.PaymentMethod != "" {
		rightLines = append(rightLines, "Payment Method: "+intent.PaymentMethod)
	}
	g.twoColumns(doc, columnWidth, leftLines, rightLines)
	doc.Ln(16)

	// Seller / Bill to
	seller := []string{intent.Seller.Name}
	if intent.Seller.Address != "" {
		seller = append(seller, intent.Seller.Address)
	}
	if intent.Seller.Email != "" {
		seller = append(seller, intent.Seller.Email)
	}
	billTo := []string{intent.BillTo.Name}
	if intent.BillTo.Address != "" {
		billTo = append(billTo, intent.BillTo.Address)
	}
	if locality := formatLocality(intent.BillTo.City, intent.BillTo.State, intent.BillTo.Zip); locality != "" {
		billTo = append(billTo, locality)
	}
	if intent.BillTo.Country != "" {
		billTo = append(billTo, intent.BillTo.Country)
	}
	if intent.BillTo.Email != "" {
		billTo = append(billTo, intent.BillTo.Email)
	}
	g.headedColumns(doc, columnWidth, "Seller", seller, "Bill to", billTo)
	doc.Ln(20)

	// Status band
	doc.SetFillColor(softGray, softGray, softGray)
	doc.SetFont("Helvetica", "B", 11)
	statusLine := "Status: " + string(intent.Status)
	doc.CellFormat(contentWidth, bandHeight, statusLine, "", 1, "L", true, 0, "")
	if intent.Status == invoices.StatusPaid {
		doc.SetFont("Helvetica", "", 10)
		paidLine := fmt.Sprintf("%s due %s", usd(intent.TotalMinor), formatDate(intent.IssueDate))
		doc.CellFormat(contentWidth, lineHeight, paidLine, "", 1, "L", false, 0, "")
	}
	doc.Ln(12)

	g.lineItems(doc, contentWidth, intent.LineItems)
	doc.Ln(24)
	g.totals(doc, contentWidth, intent)

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write pdf")
	}
	return buf.Bytes(), nil
}

func (g *PDFGenerator) twoColumns(doc *fpdf.Fpdf, columnWidth float64, left, right []string) {
	doc.SetFont("Helvetica", "", 11)
	startY := doc.GetY()
	for _, line := range left {
		doc.SetX(pageMargin)
		doc.CellFormat(columnWidth, lineHeight, line, "", 1, "L", false, 0, "")
	}
	leftBottom := doc.GetY()

	doc.SetY(startY)
	for _, line := range right {
		doc.SetX(pageMargin + columnWidth + columnGap)
		doc.CellFormat(columnWidth, lineHeight, line, "", 1, "L", false, 0, "")
	}
	if leftBottom > doc.GetY() {
		doc.SetY(leftBottom)
	}
}

func (g *PDFGenerator) headedColumns(doc *fpdf.Fpdf, columnWidth float64, leftHead string, left []string, rightHead string, right []string) {
	doc.SetFillColor(accentR, accentG, accentB)
	doc.SetFont("Helvetica", "B", 12)
	doc.SetX(pageMargin)
	doc.CellFormat(columnWidth, bandHeight, leftHead, "", 0, "L", true, 0, "")
	doc.SetX(pageMargin + columnWidth + columnGap)
	doc.CellFormat(columnWidth, bandHeight, rightHead, "", 1, "L", true, 0, "")
	headBottom := doc.GetY()

	writeColumn := func(x float64, lines []string) float64 {
		doc.SetY(headBottom)
		for i, line := range lines {
			if line == "" {
				continue
			}
			if i == 0 {
				doc.SetFont("Helvetica", "B", 11)
			} else {
				doc.SetFont("Helvetica", "", 11)
			}
			doc.SetX(x)
			doc.CellFormat(columnWidth, lineHeight, line, "", 1, "L", false, 0, "")
		}
		return doc.GetY()
	}

	leftBottom := writeColumn(pageMargin, left)
	rightBottom := writeColumn(pageMargin+columnWidth+columnGap, right)
	if leftBottom > rightBottom {
		doc.SetY(leftBottom)
	} else {
		doc.SetY(rightBottom)
	}
}

func (g *PDFGenerator) lineItems(doc *fpdf.Fpdf, contentWidth float64, items []invoices.LineItem) {
	widths := []float64{0.40 * contentWidth, 0.20 * contentWidth, 0.20 * contentWidth, 0.20 * contentWidth}

	doc.SetFillColor(softGray, softGray, softGray)
	doc.SetFont("Helvetica", "B", 11)
	doc.CellFormat(widths[0], bandHeight, "Description", "", 0, "L", true, 0, "")
	doc.CellFormat(widths[1], bandHeight, "Qty", "", 0, "R", true, 0, "")
	doc.CellFormat(widths[2], bandHeight, "Unit price", "", 0, "R", true, 0, "")
	doc.CellFormat(widths[3], bandHeight, "Amount", "", 1, "R", true, 0, "")

	doc.SetFont("Helvetica", "", 10)
	for _, item := range items {
		quantity := item.Quantity
		if quantity == 0 {
			quantity = 1
		}
		doc.CellFormat(widths[0], lineHeight, item.Name, "", 0, "L", false, 0, "")
		doc.CellFormat(widths[1], lineHeight, strconv.FormatInt(quantity, 10), "", 0, "R", false, 0, "")
		doc.CellFormat(widths[2], lineHeight, usd(item.UnitPriceMinor), "", 0, "R", false, 0, "")
		doc.CellFormat(widths[3], lineHeight, usd(item.AmountMinor), "", 1, "R", false, 0, "")

		if item.BillingCycle != "" {
			doc.SetFont("Helvetica", "", 9)
			doc.SetTextColor(90, 98, 104)
			doc.CellFormat(widths[0], lineHeight, item.BillingCycle, "", 1, "L", false, 0, "")
			doc.SetTextColor(textR, textG, textB)
			doc.SetFont("Helvetica", "", 10)
		}
	}
}

func (g *PDFGenerator) totals(doc *fpdf.Fpdf, contentWidth float64, intent invoices.Intent) {
	half := contentWidth / 2
	x := pageMargin + half

	rows := []struct {
		label string
		value string
		bold  bool
	}{
		{"Subtotal", usd(intent.SubtotalMinor), false},
		{"Total", usd(intent.TotalMinor), false},
		{"Balance Due", usd(intent.BalanceDueMinor), true},
	}
	for _, row := range rows {
		style := ""
		if row.bold {
			style = "B"
		}
		doc.SetFont("Helvetica", style, 12)
		doc.SetX(x)
		doc.CellFormat(half/2, 18, row.label, "", 0, "L", false, 0, "")
		doc.CellFormat(half/2, 18, row.value, "", 1, "R", false, 0, "")
	}
}

func usd(minor int64) string {
	return "$" + money.MinorToMajorString(minor)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("January 2, 2006")
}

func formatLocality(city, state, zip string) string {
	switch {
	case city != "" && state != "" && zip != "":
		return fmt.Sprintf("%s, %s %s", city, state, zip)
	case city != "" && state != "":
		return fmt.Sprintf("%s, %s", city, state)
	case state != "" && zip != "":
		return state + " " + zip
	case city != "" && zip != "":
		return city + " " + zip
	case city != "":
		return city
	case state != "":
		return state
	case zip != "":
		return zip
	default:
		return ""
	}
}
