package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/shopspring/decimal"

	"github.com/zombor/expense-tracker/internal/expense"
	"github.com/zombor/expense-tracker/internal/scanning"
	"github.com/zombor/expense-tracker/internal/source"
)

func multipartBody(filename, contentType string, data []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(h)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

func decodeBody[T any](resp *http.Response) T {
	defer resp.Body.Close()
	var v T
	data, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(data, &v)).To(Succeed(), string(data))
	return v
}

var _ = Describe("Server", func() {
	var (
		processor   *mockProcessor
		extractor   *mockExtractor
		querier     *mockQuerier
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	record := &expense.ExpenseRecord{
		ID:       1,
		Date:     time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC),
		Vendor:   "Blue Bottle",
		Amount:   decimal.RequireFromString("4.5"),
		Currency: "EUR",
		Category: "Food",
		Source:   expense.SourceText,
	}

	send := func(method, path string, body io.Reader, contentType string) *http.Response {
		ghttpServer.AppendHandlers(server.ServeHTTP)
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if auth.Username != "" {
			req.SetBasicAuth(auth.Username, auth.Password)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	postText := func(text string) *http.Response {
		payload, err := json.Marshal(map[string]string{"text": text})
		Expect(err).NotTo(HaveOccurred())
		return send("POST", "/api/expenses/text", bytes.NewReader(payload), "application/json")
	}

	BeforeEach(func() {
		processor = &mockProcessor{record: record}
		extractor = &mockExtractor{text: "BLUE BOTTLE TOTAL 4.50 EUR"}
		querier = &mockQuerier{records: []*expense.ExpenseRecord{record}}
		auth = BasicAuth{}
		ghttpServer = ghttp.NewServer()
	})

	JustBeforeEach(func() {
		service = NewServiceWithDeps(processor, querier, extractor, fastRetry, fixedTime{})
		server = NewServerWithMux(service, auth, http.NewServeMux())
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	Describe("handleSubmitText", func() {
		When("the expense is persisted", func() {
			It("should return Created with the record", func() {
				resp := postText("Coffee 4.50 EUR at Blue Bottle")
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				out := decodeBody[map[string]any](resp)
				Expect(out["status"]).To(Equal("persisted"))
				rec := out["record"].(map[string]any)
				Expect(rec["amount"]).To(Equal("4.50"))
				Expect(rec["date"]).To(Equal("2024-03-14"))
				Expect(rec["vendor"]).To(Equal("Blue Bottle"))
			})

			It("should stamp the candidate with the receive time", func() {
				resp := postText("Coffee 4.50 EUR")
				resp.Body.Close()
				Expect(processor.received).To(HaveLen(1))
				Expect(processor.received[0].Source).To(Equal(expense.SourceText))
				Expect(processor.received[0].ReceivedAt).To(Equal(testNow))
			})
		})

		When("the expense is a duplicate", func() {
			BeforeEach(func() {
				processor.results = []error{expense.ErrDuplicateExpense}
			})

			It("should return OK with an informational status", func() {
				resp := postText("Coffee 4.50 EUR")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				out := decodeBody[map[string]any](resp)
				Expect(out["status"]).To(Equal("duplicate"))
				Expect(out).NotTo(HaveKey("record"))
			})
		})

		When("validation fails", func() {
			BeforeEach(func() {
				processor.results = []error{&expense.ValidationError{Field: expense.FieldDate, Reason: "is in the future"}}
			})

			It("should return the failing field", func() {
				resp := postText("Coffee 4.50 EUR next year")
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				out := decodeBody[map[string]any](resp)
				Expect(out["status"]).To(Equal("rejected"))
				Expect(out["field"]).To(Equal("date"))
				Expect(out["reason"]).To(ContainSubstring("future"))
			})
		})

		When("inference keeps timing out", func() {
			BeforeEach(func() {
				processor.results = []error{scanning.ErrInferenceTimeout}
			})

			It("should return Gateway Timeout and mark the outcome retryable", func() {
				resp := postText("Coffee 4.50 EUR")
				Expect(resp.StatusCode).To(Equal(http.StatusGatewayTimeout))
				out := decodeBody[map[string]any](resp)
				Expect(out["retryable"]).To(BeTrue())
				Expect(processor.received).To(HaveLen(fastRetry.MaxAttempts))
			})
		})

		When("inference times out once", func() {
			BeforeEach(func() {
				processor.results = []error{scanning.ErrInferenceTimeout, nil}
			})

			It("should retry and persist", func() {
				resp := postText("Coffee 4.50 EUR")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(processor.received).To(HaveLen(2))
			})
		})

		When("the text is empty", func() {
			It("should reject without calling the pipeline", func() {
				resp := postText("   ")
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				out := decodeBody[map[string]any](resp)
				Expect(out["status"]).To(Equal("rejected"))
				Expect(processor.received).To(BeEmpty())
			})
		})

		When("the body is not JSON", func() {
			It("should return Bad Request", func() {
				resp := send("POST", "/api/expenses/text", strings.NewReader("coffee"), "text/plain")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handleSubmitImage", func() {
		When("the upload is readable", func() {
			It("should submit the transcribed text as an image candidate", func() {
				body, ct := multipartBody("receipt.jpg", "image/jpeg", []byte("jpeg"))
				resp := send("POST", "/api/expenses/image", body, ct)
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(processor.received).To(HaveLen(1))
				Expect(processor.received[0].Source).To(Equal(expense.SourceImage))
				Expect(processor.received[0].Payload).To(Equal("BLUE BOTTLE TOTAL 4.50 EUR"))
			})
		})

		When("OCR times out once", func() {
			BeforeEach(func() {
				extractor.errs = []error{scanning.ErrInferenceTimeout}
			})

			It("should retry the transcription", func() {
				body, ct := multipartBody("receipt.jpg", "image/jpeg", []byte("jpeg"))
				resp := send("POST", "/api/expenses/image", body, ct)
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			})
		})

		When("the image format is unsupported", func() {
			BeforeEach(func() {
				extractor.errs = []error{scanning.ErrUnsupportedImage}
			})

			It("should return Unprocessable Entity", func() {
				body, ct := multipartBody("notes.txt", "text/plain", []byte("hello"))
				resp := send("POST", "/api/expenses/image", body, ct)
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				out := decodeBody[map[string]any](resp)
				Expect(out["reason"]).To(ContainSubstring("unreadable image"))
				Expect(processor.received).To(BeEmpty())
			})
		})

		When("the image is corrupt", func() {
			BeforeEach(func() {
				extractor.errs = []error{fmt.Errorf("%w: decoding image: unexpected EOF", scanning.ErrUnreadableImage)}
			})

			It("should return Unprocessable Entity", func() {
				body, ct := multipartBody("receipt.jpg", "image/jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0})
				resp := send("POST", "/api/expenses/image", body, ct)
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				out := decodeBody[map[string]any](resp)
				Expect(out["reason"]).To(ContainSubstring("unreadable image"))
				Expect(processor.received).To(BeEmpty())
			})
		})

		When("no file is attached", func() {
			It("should return Bad Request", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				Expect(writer.WriteField("note", "nothing here")).To(Succeed())
				Expect(writer.Close()).To(Succeed())

				resp := send("POST", "/api/expenses/image", body, writer.FormDataContentType())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("handlePullEmail", func() {
		When("no mailbox is configured", func() {
			It("should return Service Unavailable", func() {
				resp := send("POST", "/api/gmail/pull", nil, "")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
			})
		})

		When("a mailbox is configured", func() {
			var puller *mockPuller

			BeforeEach(func() {
				puller = &mockPuller{summary: &source.PullSummary{
					RunID:     "run-1",
					Checked:   2,
					Persisted: 1,
					Rejected:  1,
					Messages: []source.MessageOutcome{
						{OriginID: "m1", Subject: "Receipt", Outcome: expense.Outcome{Status: expense.StatusPersisted}},
						{OriginID: "m2", Subject: "Newsletter", Outcome: expense.Outcome{Status: expense.StatusRejected, Err: expense.ErrNotExpense}},
					},
				}}
			})

			JustBeforeEach(func() {
				service.WithPuller(puller)
			})

			It("should return the pull summary", func() {
				resp := send("POST", "/api/gmail/pull", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				out := decodeBody[pullResponse](resp)
				Expect(out.RunID).To(Equal("run-1"))
				Expect(out.Persisted).To(Equal(1))
				Expect(out.Rejected).To(Equal(1))
				Expect(out.Messages).To(HaveLen(2))
				Expect(out.Messages[1].Reason).To(Equal(expense.ErrNotExpense.Error()))
			})

			It("should report a pull already running as a conflict", func() {
				puller.summary = nil
				puller.err = source.ErrPullInProgress
				resp := send("POST", "/api/gmail/pull", nil, "")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			})
		})
	})

	Describe("handleListExpenses", func() {
		It("should list all expenses", func() {
			resp := send("GET", "/api/expenses", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			out := decodeBody[[]recordResponse](resp)
			Expect(out).To(HaveLen(1))
			Expect(querier.calls).To(Equal([]string{"all"}))
		})

		It("should filter by month", func() {
			resp := send("GET", "/api/expenses?month=2024-03", nil, "")
			out := decodeBody[[]recordResponse](resp)
			Expect(out).To(HaveLen(1))
			Expect(querier.calls).To(Equal([]string{"month"}))
		})

		It("should return an empty list for other months", func() {
			resp := send("GET", "/api/expenses?month=2024-04", nil, "")
			out := decodeBody[[]recordResponse](resp)
			Expect(out).NotTo(BeNil())
			Expect(out).To(BeEmpty())
		})

		It("should filter by vendor", func() {
			resp := send("GET", "/api/expenses?vendor=Blue+Bottle", nil, "")
			resp.Body.Close()
			Expect(querier.calls).To(Equal([]string{"vendor:Blue Bottle"}))
		})

		It("should filter by category", func() {
			resp := send("GET", "/api/expenses?category=food", nil, "")
			resp.Body.Close()
			Expect(querier.calls).To(Equal([]string{"category:food"}))
		})

		It("should reject malformed months", func() {
			resp := send("GET", "/api/expenses?month=March", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should reject combined filters", func() {
			resp := send("GET", "/api/expenses?month=2024-03&vendor=x", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleGetExpense", func() {
		It("should return the expense", func() {
			resp := send("GET", "/api/expenses/1", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			out := decodeBody[recordResponse](resp)
			Expect(out.Vendor).To(Equal("Blue Bottle"))
			Expect(out.Currency).To(Equal("EUR"))
		})

		It("should return Not Found for unknown ids", func() {
			resp := send("GET", "/api/expenses/99", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should return Bad Request for malformed ids", func() {
			resp := send("GET", "/api/expenses/abc", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleGetReceiptImage", func() {
		It("should return Not Found without an archive", func() {
			resp := send("GET", "/api/expenses/1/image", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "secret"}
		})

		It("should accept valid credentials", func() {
			resp := send("GET", "/api/expenses", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should reject missing credentials", func() {
			ghttpServer.AppendHandlers(server.ServeHTTP)
			resp, err := http.Get(ghttpServer.URL() + "/api/expenses")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("should reject a wrong password", func() {
			auth.Password = "wrong"
			resp := send("GET", "/api/expenses", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := send("OPTIONS", "/api/expenses/text", nil, "")
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("POST"))
		})
	})
})

var _ = Describe("OutcomeHTTPStatus", func() {
	DescribeTable("maps outcomes",
		func(outcome expense.Outcome, want int) {
			Expect(OutcomeHTTPStatus(outcome)).To(Equal(want))
		},
		Entry("persisted", expense.Outcome{Status: expense.StatusPersisted}, http.StatusCreated),
		Entry("duplicate", expense.OutcomeOf(nil, expense.ErrDuplicateExpense), http.StatusOK),
		Entry("already processed", expense.OutcomeOf(nil, expense.ErrAlreadyProcessed), http.StatusOK),
		Entry("adapter error", expense.OutcomeOf(nil, &expense.AdapterError{Source: expense.SourceText, Reason: "empty"}), http.StatusUnprocessableEntity),
		Entry("normalization error", expense.OutcomeOf(nil, &expense.NormalizationError{Field: expense.FieldCurrency, Reason: "unknown"}), http.StatusUnprocessableEntity),
		Entry("not an expense", expense.OutcomeOf(nil, expense.ErrNotExpense), http.StatusUnprocessableEntity),
		Entry("inference timeout", expense.OutcomeOf(nil, scanning.ErrInferenceTimeout), http.StatusGatewayTimeout),
		Entry("inference failure", expense.OutcomeOf(nil, scanning.ErrInference), http.StatusBadGateway),
		Entry("store failure", expense.OutcomeOf(nil, errors.New("disk full")), http.StatusInternalServerError),
	)
})
