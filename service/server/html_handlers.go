package server

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/brojonat/raisefi/service/donation"
	"github.com/brojonat/raisefi/service/fundraiser"
	"github.com/brojonat/raisefi/service/funds"
	"github.com/brojonat/raisefi/service/metrics"
	"github.com/brojonat/raisefi/service/wallet"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templateFuncs = template.FuncMap{
	"short": func(a common.Address) string {
		h := a.Hex()
		return h[:6] + "…" + h[len(h)-4:]
	},
	"pct": func(f float64) string {
		return fmt.Sprintf("%.0f", f)
	},
}

// TemplateRenderer holds parsed HTML templates
type TemplateRenderer struct {
	templates *template.Template
	logger    *slog.Logger
}

// NewTemplateRenderer creates a new template renderer from embedded files
func NewTemplateRenderer(logger *slog.Logger) (*TemplateRenderer, error) {
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	return &TemplateRenderer{
		templates: tmpl,
		logger:    logger,
	}, nil
}

// Render renders a template with the given data
func (tr *TemplateRenderer) Render(w http.ResponseWriter, name string, data interface{}) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return tr.templates.ExecuteTemplate(w, name, data)
}

// page is the data shared by every page: the header's wallet state.
type page struct {
	Title     string
	Path      string
	Identity  common.Address
	Connected bool
	ReadOnly  bool
}

type listingPage struct {
	page
	Listing funds.Listing
	Cards   []funds.Card
	Query   string
	Search  bool
	Modal   *modalView
}

type modalView struct {
	Fund   common.Address
	Amount string
	Symbol string
}

type detailPage struct {
	page
	Address common.Address
	Detail  *funds.Detail
	Loading bool
}

type wizardPage struct {
	page
	Step       int
	Caption    string
	Dots       []bool
	Draft      fundraiser.Draft
	MediaError string
	IsFirst    bool
	IsLast     bool
}

// pageHandlers serves the server-rendered front-end.
type pageHandlers struct {
	renderer *TemplateRenderer
	funds    *funds.Service
	sessions *SessionStore
	submit   *submitter
	signer   wallet.Signer
	symbol   string
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func (h *pageHandlers) render(w http.ResponseWriter, name string, data interface{}) {
	if err := h.renderer.Render(w, name, data); err != nil {
		h.logger.Error("failed to render template", "template", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// basePage loads the session (creating it when needed) and fills the
// header data.
func (h *pageHandlers) basePage(w http.ResponseWriter, r *http.Request, title string) (string, page) {
	id := h.sessions.Load(w, r)
	p := page{Title: title, Path: r.URL.Path, ReadOnly: h.signer == nil}
	if sess, err := h.sessions.View(id); err == nil {
		p.Identity = sess.Identity
		p.Connected = sess.Connected()
	}
	return id, p
}

// home serves the landing page.
// GET /
func (h *pageHandlers) home() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, p := h.basePage(w, r, "raisefi")
		h.render(w, "home.html", p)
	})
}

// listing serves /donate and /my-fundraise. Only cards owned by the
// connected wallet are rendered, and the donate action is hidden on the
// my-fundraise page.
func (h *pageHandlers) listing() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.renderListing(w, r, r.URL.Path, nil)
	})
}

func (h *pageHandlers) renderListing(w http.ResponseWriter, r *http.Request, path string, modal *modalView) {
	title := "Donate"
	if !funds.ShowDonate(path) {
		title = "My fundraise"
	}
	_, p := h.basePage(w, r, title)
	p.Path = path

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	listing := h.funds.Listing(r.Context(), p.Identity, path)
	if !listing.Loading {
		// One card per factory address, counted before the search narrows it.
		h.metrics.RecordListingSize(len(listing.Cards))
	}
	listing = listing.Filter(query)

	h.render(w, "funds.html", listingPage{
		page:    p,
		Listing: listing,
		Cards:   listing.Visible(),
		Query:   query,
		Search:  funds.ShowDonate(path),
		Modal:   modal,
	})
}

// detail serves the single fund page. A failed read renders the loading
// state.
// GET /my-fundraise/{address}
func (h *pageHandlers) detail() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fund := common.HexToAddress(address)

		_, p := h.basePage(w, r, "Fundraise")
		data := detailPage{page: p, Address: fund}

		detail, err := h.funds.Detail(r.Context(), fund)
		if err != nil {
			h.logger.WarnContext(r.Context(), "failed to read fund", "fund", address, "error", err)
			data.Loading = true
		} else {
			data.Detail = detail
		}

		h.render(w, "fund.html", data)
	})
}

// openDonation opens the donation modal for a fund over the listing.
// GET /donate/{address}
func (h *pageHandlers) openDonation() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fund := common.HexToAddress(address)

		id := h.sessions.Load(w, r)
		modal := &modalView{Fund: fund, Symbol: h.symbol}
		h.sessions.With(id, func(sess *Session) {
			if sess.Donation == nil || sess.Donation.Fund != fund {
				sess.Donation = &DonationModal{Fund: fund, Draft: donation.Draft{Amount: "0"}}
			}
			modal.Amount = sess.Donation.Draft.Amount
		})

		h.renderListing(w, r, "/donate", modal)
	})
}

// submitDonation handles the modal's Cancel and Confirm buttons. An
// incomplete draft keeps the modal open; once a transaction is attempted
// the modal closes whatever the outcome.
// POST /donate/{address}
func (h *pageHandlers) submitDonation() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		address := r.PathValue("address")
		if err := validateAddress(address); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fund := common.HexToAddress(address)

		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}

		id := h.sessions.Load(w, r)

		if r.PostForm.Get("action") == "cancel" {
			h.sessions.With(id, func(sess *Session) { sess.Donation = nil })
			h.metrics.RecordDonationAttempt("cancelled")
			http.Redirect(w, r, "/donate", http.StatusSeeOther)
			return
		}

		var (
			identity common.Address
			txn      *donation.Transaction
		)
		h.sessions.With(id, func(sess *Session) {
			draft := donation.Draft{Amount: strings.TrimSpace(r.PostForm.Get("amount"))}
			sess.Donation = &DonationModal{Fund: fund, Draft: draft}
			identity = sess.Identity
			txn = donation.Build(draft, fund, identity)
		})

		if txn == nil {
			h.metrics.RecordDonationAttempt("incomplete")
			http.Redirect(w, r, "/donate/"+fund.Hex(), http.StatusSeeOther)
			return
		}

		if _, err := h.submit.donate(r.Context(), identity, txn); err != nil {
			h.logger.ErrorContext(r.Context(), "donation failed", "fund", fund.Hex(), "error", err)
			h.metrics.RecordDonationAttempt("failed")
		} else {
			h.metrics.RecordDonationAttempt("sent")
		}

		h.sessions.With(id, func(sess *Session) { sess.Donation = nil })
		http.Redirect(w, r, "/donate", http.StatusSeeOther)
	})
}

// mountWizard mounts a fresh wizard, discarding any previous draft.
// GET /fundraiser
func (h *pageHandlers) mountWizard() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, p := h.basePage(w, r, "Start a fundraiser")

		var view wizardPage
		h.sessions.With(id, func(sess *Session) {
			sess.Wizard = fundraiser.New()
			view = newWizardPage(p, sess.Wizard)
		})
		h.render(w, "fundraiser.html", view)
	})
}

// stepWizard applies the posted fields to the active step and performs
// the requested action: next, back or submit.
// POST /fundraiser
func (h *pageHandlers) stepWizard() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := parseWizardForm(r); err != nil {
			h.logger.DebugContext(r.Context(), "failed to parse wizard form", "error", err)
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		media, err := mediaFromForm(r)
		if err != nil {
			h.logger.DebugContext(r.Context(), "failed to read media proof", "error", err)
			http.Error(w, "invalid media proof", http.StatusBadRequest)
			return
		}

		id, p := h.basePage(w, r, "Start a fundraiser")
		action := r.PostForm.Get("action")

		values := make(map[string]string)
		for _, f := range []string{fundraiser.FieldReason, fundraiser.FieldPeriod, fundraiser.FieldTitle, fundraiser.FieldDescription, fundraiser.FieldAmount} {
			if vs, ok := r.PostForm[f]; ok && len(vs) > 0 {
				values[f] = vs[0]
			}
		}

		var (
			wz       *fundraiser.Wizard
			call     *fundraiser.CreateFund
			identity common.Address
			view     wizardPage
		)
		h.sessions.With(id, func(sess *Session) {
			if sess.Wizard == nil {
				sess.Wizard = fundraiser.New()
			}
			wz = sess.Wizard
			identity = sess.Identity

			wz.Update(values)
			if media != nil {
				wz.AttachMedia(media)
			}

			switch action {
			case "next":
				wz.Next()
			case "back":
				wz.Back()
			case "submit":
				if wz.IsLast() {
					call = wz.Transaction(identity)
				}
			default:
				action = "update"
			}
			h.metrics.RecordWizardTransition(action, wz.Step())
			view = newWizardPage(p, wz)
		})

		if call == nil {
			h.render(w, "fundraiser.html", view)
			return
		}

		if _, err := h.submit.createFund(r.Context(), identity, call); err != nil {
			h.logger.ErrorContext(r.Context(), "createFund failed", "error", err)
			h.render(w, "fundraiser.html", view)
			return
		}

		h.sessions.With(id, func(sess *Session) {
			if sess.Wizard == wz {
				sess.Wizard = nil
			}
		})
		http.Redirect(w, r, funds.MyFundraisePath, http.StatusSeeOther)
	})
}

func newWizardPage(p page, wz *fundraiser.Wizard) wizardPage {
	dots := make([]bool, fundraiser.LastStep+1)
	for i := range dots {
		dots[i] = i <= wz.Step()
	}
	view := wizardPage{
		page:    p,
		Step:    wz.Step(),
		Caption: wz.Caption(),
		Dots:    dots,
		Draft:   wz.Draft,
		IsFirst: wz.Step() == fundraiser.StepPurpose,
		IsLast:  wz.IsLast(),
	}
	if wz.IsLast() {
		view.MediaError = wz.MediaError()
	}
	return view
}

func parseWizardForm(r *http.Request) error {
	err := r.ParseMultipartForm(fundraiser.MaxMediaSize + 1<<20)
	if err == http.ErrNotMultipart {
		return r.ParseForm()
	}
	return err
}

// mediaFromForm returns the uploaded proof images, or nil when the form
// carried no file field.
func mediaFromForm(r *http.Request) ([]fundraiser.Media, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	headers, ok := r.MultipartForm.File[fundraiser.FieldMediaProof]
	if !ok {
		return nil, nil
	}

	media := make([]fundraiser.Media, 0, len(headers))
	for _, fh := range headers {
		head, err := readHead(fh)
		if err != nil {
			return nil, err
		}
		media = append(media, fundraiser.NewMedia(fh.Filename, fh.Size, fh.Header.Get("Content-Type"), head))
	}
	return media, nil
}

func readHead(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// connect attaches a wallet identity to the session. An empty address
// connects the server's own wallet.
// POST /connect
func (h *pageHandlers) connect() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}

		var identity common.Address
		if raw := strings.TrimSpace(r.PostForm.Get("address")); raw != "" {
			addr, err := wallet.ParseIdentity(raw)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			identity = addr
		} else if h.signer != nil {
			identity = h.signer.Address()
		}

		id := h.sessions.Load(w, r)
		h.sessions.With(id, func(sess *Session) { sess.Identity = identity })

		h.logger.InfoContext(r.Context(), "wallet connected", "identity", identity.Hex())
		http.Redirect(w, r, returnPath(r), http.StatusSeeOther)
	})
}

// disconnect detaches the wallet identity.
// POST /disconnect
func (h *pageHandlers) disconnect() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}
		id := h.sessions.Load(w, r)
		h.sessions.With(id, func(sess *Session) { sess.Identity = common.Address{} })
		http.Redirect(w, r, returnPath(r), http.StatusSeeOther)
	})
}

// returnPath is the local path to go back to after a header action.
func returnPath(r *http.Request) string {
	p := r.PostForm.Get("return")
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") {
		return "/"
	}
	return p
}
