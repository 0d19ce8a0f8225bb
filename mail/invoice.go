package mail

import (
	"encoding/base64"
	"fmt"
	"strings"

	"go-event-payments/models"
)

// BuildInvoice renders a plain-text invoice for a payment and returns it
// as an email attachment.
func BuildInvoice(payment *models.Payment, clientName string, discountValue float64) Attachment {
	var b strings.Builder
	fmt.Fprintf(&b, "Invoice %s\n", payment.ID.Hex())
	fmt.Fprintf(&b, "Billed to: %s\n\n", clientName)

	for _, snapshot := range payment.Products {
		fmt.Fprintf(&b, "%-40s x%d  %8.2f %s\n",
			snapshot.Name, snapshot.Quantity,
			snapshot.Price*float64(snapshot.Quantity), payment.Currency)
	}
	if discountValue > 0 {
		fmt.Fprintf(&b, "\nDiscount applied: %.0f%%\n", discountValue)
	}
	fmt.Fprintf(&b, "\nTotal: %.2f %s\n", payment.Amount, payment.Currency)

	return Attachment{
		Name:        fmt.Sprintf("invoice_%s.txt", payment.ID.Hex()),
		ContentType: "text/plain",
		Content:     base64.StdEncoding.EncodeToString([]byte(b.String())),
	}
}
