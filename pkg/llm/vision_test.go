package llm

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"
)

const sampleInvoiceJSON = `{
	"supplier_name": "Marfrig Alimentos",
	"supplier_cnpj": "03.853.896/0001-40",
	"invoice_date": "15/03/2025",
	"invoice_number": "NF-4512",
	"items": [
		{"product_name": "Picanha Bovina", "quantity": 10, "unit": "kg", "unit_price": 43.0},
		{"product_name": "Fraldinha", "quantity": 8, "unit": "kg", "unit_price": 18.125}
	],
	"total_amount": 575.0
}`

func newTestParser(client LLMClient) *InvoiceParser {
	return NewInvoiceParser(client, 2, zap.NewNop())
}

func TestParseInvoice(t *testing.T) {
	t.Run("clean json response", func(t *testing.T) {
		mock := NewMockLLMClient()
		mock.DescribeImageFunc = func(ctx context.Context, img ImageInput, prompt, system string) (string, error) {
			return sampleInvoiceJSON, nil
		}

		invoice, err := newTestParser(mock).ParseInvoice(context.Background(), ImageInput{Data: []byte{1}, MediaType: "image/jpeg"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if invoice.SupplierName != "Marfrig Alimentos" {
			t.Errorf("supplier = %q", invoice.SupplierName)
		}
		if len(invoice.Items) != 2 {
			t.Fatalf("expected 2 items, got %d", len(invoice.Items))
		}
		if invoice.ConfidenceScore != defaultVisionConfidence {
			t.Errorf("confidence = %v, want %v", invoice.ConfidenceScore, defaultVisionConfidence)
		}
		date := invoice.ParsedDate()
		if date == nil || date.Day() != 15 || int(date.Month()) != 3 || date.Year() != 2025 {
			t.Errorf("parsed date = %v", date)
		}
	})

	t.Run("json inside markdown fences", func(t *testing.T) {
		mock := NewMockLLMClient()
		mock.DescribeImageFunc = func(ctx context.Context, img ImageInput, prompt, system string) (string, error) {
			return "Here is the extraction:\n```json\n" + sampleInvoiceJSON + "\n```", nil
		}

		invoice, err := newTestParser(mock).ParseInvoice(context.Background(), ImageInput{Data: []byte{1}, MediaType: "image/jpeg"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if invoice.InvoiceNumber != "NF-4512" {
			t.Errorf("invoice number = %q", invoice.InvoiceNumber)
		}
	})

	t.Run("unparseable response yields zero confidence", func(t *testing.T) {
		mock := NewMockLLMClient()
		mock.DescribeImageFunc = func(ctx context.Context, img ImageInput, prompt, system string) (string, error) {
			return "This image does not look like an invoice.", nil
		}

		invoice, err := newTestParser(mock).ParseInvoice(context.Background(), ImageInput{Data: []byte{1}, MediaType: "image/jpeg"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if invoice.ConfidenceScore != 0 {
			t.Errorf("confidence = %v, want 0", invoice.ConfidenceScore)
		}
		if !invoice.IsEmpty() {
			t.Error("invoice should be empty")
		}
	})

	t.Run("malformed invoice date returns nil", func(t *testing.T) {
		inv := &ParsedInvoice{InvoiceDate: "2025-03-15"}
		if inv.ParsedDate() != nil {
			t.Error("expected nil for non DD/MM/YYYY date")
		}
	})
}

func TestParseInvoices(t *testing.T) {
	mock := NewMockLLMClient()
	mock.DescribeImageFunc = func(ctx context.Context, img ImageInput, prompt, system string) (string, error) {
		switch img.Data[0] {
		case 0:
			return sampleInvoiceJSON, nil
		case 1:
			return "", errors.New("model unavailable")
		default:
			return `{"supplier_name": "Hortifruti Dois Irmãos", "items": []}`, nil
		}
	}

	images := []ImageInput{
		{Data: []byte{0}, MediaType: "image/jpeg"},
		{Data: []byte{1}, MediaType: "image/jpeg"},
		{Data: []byte{2}, MediaType: "image/jpeg"},
	}

	results := newTestParser(mock).ParseInvoices(context.Background(), images)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	if results[0].Err != nil || results[0].Invoice == nil || results[0].Invoice.SupplierName != "Marfrig Alimentos" {
		t.Errorf("result 0 misaligned: %+v", results[0])
	}
	if results[1].Err == nil {
		t.Error("result 1 should carry the failure")
	}
	if results[2].Err != nil || results[2].Invoice == nil || results[2].Invoice.SupplierName != "Hortifruti Dois Irmãos" {
		t.Errorf("result 2 misaligned: %+v", results[2])
	}
}

func TestParsedInvoice_TolerantDecoding(t *testing.T) {
	raw := `{
		"supplier_name": "Atacadão Boi Forte",
		"invoice_number": 4712,
		"invoice_date": "12/08/2026",
		"items": [
			{"product_name": "Picanha bovina", "quantity": "10,5", "unit": "kg", "unit_price": "R$ 45,90"},
			{"product_name": 123, "quantity": 2, "unit": "cx", "unit_price": 30}
		],
		"total_amount": "R$ 541,95"
	}`

	var invoice ParsedInvoice
	if err := json.Unmarshal([]byte(raw), &invoice); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if invoice.InvoiceNumber != "4712" {
		t.Errorf("numeric invoice number not coerced: %q", invoice.InvoiceNumber)
	}
	if invoice.TotalAmount != 541.95 {
		t.Errorf("currency total not parsed: %v", invoice.TotalAmount)
	}
	item := invoice.Items[0]
	if item.Quantity != 10.5 || item.UnitPrice != 45.9 {
		t.Errorf("Brazilian decimals not parsed: %+v", item)
	}
	if invoice.Items[1].ProductName != "123" {
		t.Errorf("numeric product name not coerced: %q", invoice.Items[1].ProductName)
	}
}
