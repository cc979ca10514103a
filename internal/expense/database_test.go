package expense

import (
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltDB", func() {
	var (
		db    *BoltDB
		dedup *Deduplicator
		now   time.Time
	)

	newRecord := func(vendor, amount, date, category string, source Source, originID string) *ExpenseRecord {
		return dedup.Record(&NormalizedCandidate{
			Date:     mustDate(date),
			Vendor:   vendor,
			Amount:   decimal.RequireFromString(amount),
			Currency: "EUR",
			Category: category,
			Source:   source,
		}, originID, now)
	}

	BeforeEach(func() {
		var err error
		db, err = NewBoltDB(filepath.Join(GinkgoT().TempDir(), "test.db"))
		Expect(err).NotTo(HaveOccurred())
		dedup = NewDeduplicator(DefaultDedupWindow)
		now = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("InsertIfAbsent", func() {
		var (
			record *ExpenseRecord
			stored *ExpenseRecord
			err    error
		)

		BeforeEach(func() {
			record = newRecord("Cafe Central", "4.80", "2024-03-14", "Food", SourceText, "")
		})

		JustBeforeEach(func() {
			stored, err = db.InsertIfAbsent(record)
		})

		When("the store is empty", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should assign an id", func() {
				Expect(stored.ID).To(Equal(uint64(1)))
				Expect(record.ID).To(BeZero())
			})

			It("should persist the record with its fingerprint", func() {
				saved, getErr := db.GetExpense(stored.ID)
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Vendor).To(Equal("Cafe Central"))
				Expect(saved.AmountString()).To(Equal("4.80"))
				Expect(saved.Date).To(BeTemporally("==", mustDate("2024-03-14")))
				Expect(saved.Fingerprint()).To(Equal(record.Fingerprint()))
			})
		})

		When("the same fingerprint is already stored", func() {
			BeforeEach(func() {
				_, err := db.InsertIfAbsent(newRecord("Cafe Central", "4.80", "2024-03-14", "Food", SourceImage, ""))
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return ErrDuplicateExpense", func() {
				Expect(err).To(MatchError(ErrDuplicateExpense))
			})

			It("should not insert anything", func() {
				all, listErr := db.ListExpenses()
				Expect(listErr).NotTo(HaveOccurred())
				Expect(all).To(HaveLen(1))
			})
		})

		When("the origin was already imported with different content", func() {
			BeforeEach(func() {
				_, err := db.InsertIfAbsent(newRecord("Netflix Inc", "15.99", "2024-03-01", "Subscription", SourceGmail, "msg-1"))
				Expect(err).NotTo(HaveOccurred())
				record = newRecord("Netflix", "15.99", "2024-03-01", "Subscription", SourceGmail, "msg-1")
			})

			It("should return ErrAlreadyProcessed", func() {
				Expect(err).To(MatchError(ErrAlreadyProcessed))
			})
		})

		When("the record has no fingerprint", func() {
			BeforeEach(func() {
				record = &ExpenseRecord{Vendor: "Cafe Central"}
			})

			It("returns the error", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("OriginProcessed", func() {
		BeforeEach(func() {
			_, err := db.InsertIfAbsent(newRecord("Netflix", "15.99", "2024-03-01", "Subscription", SourceGmail, "msg-1"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should find imported origins", func() {
			Expect(db.OriginProcessed("msg-1")).To(BeTrue())
		})

		It("should not find unknown origins", func() {
			Expect(db.OriginProcessed("msg-2")).To(BeFalse())
		})
	})

	Describe("GetExpense", func() {
		When("the expense does not exist", func() {
			It("should return ErrNotFound", func() {
				_, err := db.GetExpense(42)
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("queries", func() {
		BeforeEach(func() {
			for _, r := range []*ExpenseRecord{
				newRecord("Cafe Central", "4.80", "2024-03-14", "Food", SourceText, ""),
				newRecord("Uber", "28.00", "2024-03-02", "Transport", SourceText, ""),
				newRecord("Cafe Central", "5.20", "2024-04-01", "Food", SourceImage, ""),
				newRecord("Netflix", "15.99", "2024-02-29", "Subscription", SourceGmail, "msg-1"),
			} {
				_, err := db.InsertIfAbsent(r)
				Expect(err).NotTo(HaveOccurred())
			}
		})

		It("should list everything ordered by date", func() {
			all, err := db.ListExpenses()
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(4))
			Expect(all[0].Vendor).To(Equal("Netflix"))
			Expect(all[3].AmountString()).To(Equal("5.20"))
		})

		It("should query by month", func() {
			march, err := db.QueryByMonth(2024, time.March)
			Expect(err).NotTo(HaveOccurred())
			Expect(march).To(HaveLen(2))
			Expect(march[0].Vendor).To(Equal("Uber"))
			Expect(march[1].Vendor).To(Equal("Cafe Central"))
		})

		It("should query by vendor ignoring case", func() {
			cafe, err := db.QueryByVendor("cafe central")
			Expect(err).NotTo(HaveOccurred())
			Expect(cafe).To(HaveLen(2))
		})

		It("should query by category ignoring case", func() {
			subs, err := db.QueryByCategory("SUBSCRIPTION")
			Expect(err).NotTo(HaveOccurred())
			Expect(subs).To(HaveLen(1))
			Expect(subs[0].Source).To(Equal(SourceGmail))
		})
	})

	Describe("sync state", func() {
		It("should start empty", func() {
			state, err := db.GetSyncState("gmail")
			Expect(err).NotTo(HaveOccurred())
			Expect(state.LastSync.IsZero()).To(BeTrue())
		})

		It("should round-trip the last sync time", func() {
			Expect(db.SaveSyncState("gmail", &SyncState{LastSync: now})).To(Succeed())
			state, err := db.GetSyncState("gmail")
			Expect(err).NotTo(HaveOccurred())
			Expect(state.LastSync.Equal(now)).To(BeTrue())
		})
	})
})
