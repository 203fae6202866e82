package receipt

import (
	"io"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/Niiaks/Chainpaye/internal/model"
)

const (
	pageWidth  = 380.0
	pageHeight = 540.0
	margin     = 20.0
	cardWidth  = pageWidth - margin*2
	cardTop    = 60.0
	cardHeight = 440.0
)

// RenderPDF draws a single-page receipt for r.
func RenderPDF(w io.Writer, r *model.Receipt) error {
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: pageWidth, Ht: pageHeight},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle("Chainpaye transaction receipt", true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFillColor(243, 244, 246)
	pdf.Rect(0, 0, pageWidth, pageHeight, "F")

	pdf.SetFillColor(255, 255, 255)
	pdf.SetDrawColor(230, 230, 230)
	pdf.SetLineWidth(1.5)
	pdf.RoundedRect(margin, cardTop, cardWidth, cardHeight, 24, "12", "FD")

	// success badge
	cx := pageWidth / 2
	pdf.Circle(cx, cardTop, 48, "F")
	pdf.SetFillColor(35, 162, 109)
	pdf.Circle(cx, cardTop, 40, "F")
	pdf.SetDrawColor(255, 255, 255)
	pdf.SetLineWidth(4)
	pdf.Line(cx-15, cardTop, cx-5, cardTop+10)
	pdf.Line(cx-5, cardTop+10, cx+15, cardTop-10)

	headerY := cardTop + 55
	pdf.SetTextColor(0, 23, 79)
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Text(margin+20, headerY+16, "Chainpaye")
	pdf.SetTextColor(17, 21, 40)
	pdf.SetFont("Helvetica", "", 10)
	rightText(pdf, margin+cardWidth-25, headerY+16, "TRANSACTION RECEIPT")

	amountY := headerY + 65
	pdf.SetTextColor(18, 18, 18)
	pdf.SetFont("Helvetica", "", 14)
	centerText(pdf, amountY, "Payment Success!")

	pdf.SetTextColor(0, 23, 79)
	pdf.SetFont("Helvetica", "B", 32)
	centerText(pdf, amountY+45, r.Currency+" "+formatAmount(r.Amount.StringFixed(2)))

	pdf.SetTextColor(90, 95, 115)
	pdf.SetFont("Helvetica", "", 10)
	centerText(pdf, amountY+72, r.PaidAt.Format("Jan 2, 2006, 3:04 PM MST"))

	listY := amountY + 125
	divider(pdf, listY-20)

	recipient := r.PayeeName
	if recipient == "" {
		recipient = "N/A"
	}
	var bankLine []string
	for _, s := range []string{r.BankName, r.AccountNumber} {
		if s != "" {
			bankLine = append(bankLine, s)
		}
	}

	row(pdf, listY, "Recipient Details", tr(recipient), tr(strings.Join(bankLine, " | ")))
	row(pdf, listY+42, "Sender Details", tr(r.SenderName), methodLabel(r.Method)+" | "+shorten(r.Reference, 10))
	row(pdf, listY+78, "Transaction Id", r.Reference, "")
	divider(pdf, listY+100)

	footerY := cardTop + cardHeight - 30
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetTextColor(156, 163, 175)
	centerText(pdf, footerY, "Powered by Chainpaye | help")

	if err := pdf.Error(); err != nil {
		return err
	}
	return pdf.Output(w)
}

func row(pdf *fpdf.Fpdf, y float64, label, value, sub string) {
	left := margin + 20
	right := margin + cardWidth - 20

	pdf.SetTextColor(156, 163, 175)
	pdf.SetFont("Helvetica", "", 10)
	pdf.Text(left, y, label)

	pdf.SetTextColor(17, 21, 40)
	pdf.SetFont("Helvetica", "B", 10)
	rightText(pdf, right, y, value)

	if sub != "" {
		pdf.SetTextColor(90, 95, 115)
		pdf.SetFont("Helvetica", "B", 9)
		rightText(pdf, right, y+13, sub)
	}
}

func divider(pdf *fpdf.Fpdf, y float64) {
	pdf.SetDrawColor(229, 231, 235)
	pdf.SetLineWidth(1)
	pdf.Line(margin+20, y, margin+cardWidth-20, y)
}

func centerText(pdf *fpdf.Fpdf, y float64, s string) {
	pdf.Text((pageWidth-pdf.GetStringWidth(s))/2, y, s)
}

func rightText(pdf *fpdf.Fpdf, right, y float64, s string) {
	pdf.Text(right-pdf.GetStringWidth(s), y, s)
}

func methodLabel(method string) string {
	switch method {
	case "card":
		return "Card"
	default:
		return "Bank Transfer"
	}
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// formatAmount inserts thousands separators into a plain decimal string.
func formatAmount(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	for i, c := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return sign + b.String()
}
