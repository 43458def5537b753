package fundraiser

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Form field names, shared by the HTML form, the JSON API and the CLI.
const (
	FieldReason      = "fundReason"
	FieldPeriod      = "fundPeriodInDays"
	FieldTitle       = "fundRaiserTitle"
	FieldDescription = "fundRaiserDescription"
	FieldAmount      = "fundAmount"
	FieldMediaProof  = "mediaProof"
)

// Schema limits.
const (
	MinDescriptionLen       = 20 // field validator
	MinSubmitDescriptionLen = 10 // submit predicate requires strictly more than this
	MaxMediaSize            = 5 * 1024 * 1024
)

// textLength measures text in UTF-16 code units, the unit browser form
// validation counts in. Characters outside the BMP count as two.
func textLength(s string) int {
	return len(utf16.Encode([]rune(s)))
}

// Validator messages.
const (
	MsgEmpty         = "Cannot be empty"
	MsgShort         = "Has to be long enough"
	MsgOneImage      = "Please upload one image"
	MsgMaxSize       = "Max File Size is 5MB"
	MsgAcceptedTypes = "Accepted formats are jpeg and png"
	MsgWholeNumber   = "Must be a whole number greater than zero"
)

var acceptedMediaTypes = map[string]bool{
	"image/jpg":  true,
	"image/jpeg": true,
	"image/png":  true,
}

// Media describes one uploaded proof image. Only metadata is kept.
type Media struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// NewMedia builds media metadata, sniffing the content type from head
// (the first bytes of the file) when it is available.
func NewMedia(filename string, size int64, declaredType string, head []byte) Media {
	ct := declaredType
	if len(head) > 0 {
		ct = http.DetectContentType(head)
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return Media{Filename: filename, ContentType: strings.TrimSpace(ct), Size: size}
}

// Draft holds the wizard fields. Amount and period stay as typed so the
// form can echo them back.
type Draft struct {
	Reason      string  `json:"fundReason"`
	Title       string  `json:"fundRaiserTitle"`
	Description string  `json:"fundRaiserDescription"`
	PeriodDays  string  `json:"fundPeriodInDays"`
	Amount      string  `json:"fundAmount"`
	MediaProof  []Media `json:"mediaProof,omitempty"`
}

// NewDraft returns the empty draft a freshly mounted wizard starts with.
func NewDraft() Draft {
	return Draft{Amount: "0"}
}

// ValidationErrors maps field names to validator messages.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+v[f])
	}
	return "invalid draft: " + strings.Join(parts, "; ")
}

// Validate runs the field validators over the whole draft and returns
// ValidationErrors, or nil when every field passes.
func (d Draft) Validate() error {
	errs := ValidationErrors{}

	if d.Reason == "" {
		errs[FieldReason] = MsgEmpty
	}
	if d.Title == "" {
		errs[FieldTitle] = MsgEmpty
	}
	if textLength(d.Description) < MinDescriptionLen {
		errs[FieldDescription] = MsgShort
	}
	if _, err := ParseWhole(d.PeriodDays); err != nil {
		errs[FieldPeriod] = MsgWholeNumber
	}
	if _, err := ParseWhole(d.Amount); err != nil {
		errs[FieldAmount] = MsgWholeNumber
	}
	if msg := ValidateMedia(d.MediaProof); msg != "" {
		errs[FieldMediaProof] = msg
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidateMedia returns the first failing media rule's message, or "".
func ValidateMedia(files []Media) string {
	if len(files) != 1 {
		return MsgOneImage
	}
	if files[0].Size > MaxMediaSize {
		return MsgMaxSize
	}
	if !acceptedMediaTypes[strings.ToLower(files[0].ContentType)] {
		return MsgAcceptedTypes
	}
	return ""
}

var errNotWhole = errors.New("not a whole number greater than zero")

// ParseWhole parses a numeric form value into a positive integer.
// Plain integer literals are read exactly; other numeric spellings
// ("1e3", "12.0") are accepted when they denote a whole number.
func ParseWhole(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errNotWhole
	}

	if n, ok := new(big.Int).SetString(s, 10); ok {
		if n.Sign() <= 0 {
			return nil, errNotWhole
		}
		return n, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %q", errNotWhole, s)
	}
	if f <= 0 || f != math.Trunc(f) {
		return nil, fmt.Errorf("%w: %q", errNotWhole, s)
	}
	n, _ := big.NewFloat(f).Int(nil)
	return n, nil
}
