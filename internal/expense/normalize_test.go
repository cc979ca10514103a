package expense

import (
	"bytes"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/expense-tracker/internal/scanning"
)

var _ = Describe("Normalizer", func() {
	var (
		normalizer *Normalizer
		fields     *scanning.InferredFields
		nctx       NormalizeContext
		candidate  *NormalizedCandidate
		err        error
	)

	BeforeEach(func() {
		normalizer = NewNormalizer(DefaultTaxonomy())
		nctx = NormalizeContext{
			ReceivedAt: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
			Source:     SourceText,
		}
		fields = &scanning.InferredFields{
			Amount:   "4.80€",
			Vendor:   "cafe central",
			Date:     "yesterday",
			Category: "coffee",
			Notes:    "  flat white ",
		}
	})

	JustBeforeEach(func() {
		candidate, err = normalizer.Normalize(fields, nctx)
	})

	When("every field can be read", func() {
		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should read the amount and its embedded currency", func() {
			Expect(candidate.Amount.StringFixed(2)).To(Equal("4.80"))
			Expect(candidate.Currency).To(Equal("EUR"))
		})

		It("should resolve the relative date", func() {
			Expect(candidate.Date).To(Equal(mustDate("2024-03-14")))
		})

		It("should clean the vendor and notes", func() {
			Expect(candidate.Vendor).To(Equal("Cafe Central"))
			Expect(candidate.Notes).To(Equal("flat white"))
		})

		It("should map the category hint", func() {
			Expect(candidate.Category).To(Equal("Food"))
		})

		It("should keep the raw fields for audit", func() {
			Expect(candidate.Raw.Vendor).To(Equal("cafe central"))
			Expect(candidate.Raw.Amount).To(Equal("4.80€"))
		})
	})

	When("the amount is reported with a separate code", func() {
		BeforeEach(func() {
			fields.Amount = "28"
			fields.Currency = "usd"
		})

		It("should pad the amount to two decimals", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(candidate.Amount.StringFixed(2)).To(Equal("28.00"))
			Expect(candidate.Currency).To(Equal("USD"))
		})
	})

	When("the amount has more than two decimals", func() {
		BeforeEach(func() {
			fields.Amount = "2.345"
			fields.Currency = "EUR"
		})

		It("should round half away from zero and flag it", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(candidate.Amount.StringFixed(2)).To(Equal("2.35"))
			Expect(candidate.AmountRounded).To(BeTrue())
		})

		It("should leave the rounding log to the pipeline", func() {
			var buf bytes.Buffer
			DeferCleanup(slog.SetDefault, slog.Default())
			slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))

			_, err := normalizer.Normalize(fields, nctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(buf.String()).To(BeEmpty())
		})
	})

	When("the amount is missing", func() {
		BeforeEach(func() {
			fields.Amount = ""
		})

		It("should fail on the amount field", func() {
			var nerr *NormalizationError
			Expect(err).To(BeAssignableToTypeOf(nerr))
			Expect(err.(*NormalizationError).Field).To(Equal(FieldAmount))
		})
	})

	When("the currency symbol is unknown and nothing else hints at one", func() {
		BeforeEach(func() {
			fields.Amount = "12"
			fields.Currency = "¤"
			fields.Notes = "lunch"
		})

		It("should fail on the currency field", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.(*NormalizationError).Field).To(Equal(FieldCurrency))
		})
	})

	When("only the notes mention a currency", func() {
		BeforeEach(func() {
			fields.Amount = "12"
			fields.Notes = "paid 12 pounds in cash"
		})

		It("should use the hint as a last resort", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(candidate.Currency).To(Equal("GBP"))
		})
	})

	When("the date cannot be read", func() {
		BeforeEach(func() {
			fields.Date = "the other day"
		})

		It("should fail on the date field", func() {
			Expect(err.(*NormalizationError).Field).To(Equal(FieldDate))
		})
	})

	When("the vendor is blank", func() {
		BeforeEach(func() {
			fields.Vendor = "   "
		})

		It("should fail on the vendor field", func() {
			Expect(err.(*NormalizationError).Field).To(Equal(FieldVendor))
		})
	})

	When("no hint matches a category", func() {
		BeforeEach(func() {
			fields.Category = ""
			fields.Notes = "misc"
			fields.Vendor = "Acme"
		})

		It("should default to uncategorized", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(candidate.Category).To(Equal(Uncategorized))
		})
	})

	When("the candidate comes from email", func() {
		BeforeEach(func() {
			nctx.Source = SourceEmail
		})

		It("should record it as gmail", func() {
			Expect(candidate.Source).To(Equal(SourceGmail))
		})
	})

	When("fields are nil", func() {
		It("should fail on the amount field", func() {
			_, err := normalizer.Normalize(nil, nctx)
			Expect(err.(*NormalizationError).Field).To(Equal(FieldAmount))
		})
	})
})

var _ = Describe("normalizeNotes", func() {
	It("should append the email sender", func() {
		Expect(normalizeNotes("Monthly plan", "billing@netflix.com")).To(Equal("Monthly plan [From: billing@netflix.com]"))
	})

	It("should work without notes", func() {
		Expect(normalizeNotes("", "shop@example.com")).To(Equal("[From: shop@example.com]"))
	})
})
