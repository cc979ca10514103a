package scanning

import "fmt"

// extractionPrompt is shared by every provider. The model is asked to copy
// values as written; normalization happens downstream.
const extractionPrompt = `You are reading a message that may describe a purchase, payment, receipt, invoice or subscription charge.
Extract the expense it describes.

Return ONLY a JSON object with these keys:
{
  "is_expense": true or false,
  "confidence": number between 0.0 and 1.0,
  "date": "the transaction date exactly as written (YYYY-MM-DD, a written date, or words like yesterday), or null",
  "vendor": "merchant, store or company name, or null",
  "amount": "the total amount as written, or null",
  "currency": "currency symbol or ISO code as written, or null",
  "category": "one word such as Food, Transport, Shopping, Subscription, Utilities, Entertainment, or null",
  "notes": "a brief description, or null"
}

Important:
- Do not convert currencies and do not guess values that are not in the text
- Set is_expense to false for marketing emails, newsletters and promotions
- Do not include any text before or after the JSON
- Do not use markdown code blocks

Message:
%s`

// ocrPrompt asks a vision model for a plain transcription
const ocrPrompt = `Transcribe all text printed on this receipt or invoice, top to bottom, one line per printed line.
Keep amounts, currency symbols and dates exactly as printed.
Return only the transcription, with no commentary and no markdown.`

func buildExtractionPrompt(text string) string {
	return fmt.Sprintf(extractionPrompt, text)
}
