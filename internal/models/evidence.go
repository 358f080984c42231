package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/h2non/filetype"
)

// EvidenceKind определяет вид доказательства оплаты.
type EvidenceKind string

const (
	EvidenceQR         EvidenceKind = "qr"
	EvidenceScreenshot EvidenceKind = "screenshot"
	EvidenceUTR        EvidenceKind = "utr"
)

var ErrUnknownEvidenceKind = errors.New("неизвестный тип доказательства")

// Evidence реализуется только вариантами ниже: QRProof, ScreenshotProof, UTRReference.
type Evidence interface {
	Kind() EvidenceKind
	Validate(maxBytes int64) error
	sealed()
}

// QRProof содержит полезную нагрузку QR-кода с реквизитами получателя.
type QRProof struct {
	Payload string `json:"payload"`
}

func (QRProof) Kind() EvidenceKind { return EvidenceQR }
func (QRProof) sealed()            {}

func (p QRProof) Validate(maxBytes int64) error {
	if strings.TrimSpace(p.Payload) == "" {
		return fmt.Errorf("QR-код пуст")
	}
	if maxBytes > 0 && int64(len(p.Payload)) > maxBytes {
		return fmt.Errorf("QR-код превышает лимит %d байт", maxBytes)
	}
	return nil
}

// ScreenshotProof содержит изображение чека об оплате.
type ScreenshotProof struct {
	Image    []byte `json:"image"`
	MimeType string `json:"mime_type"`
}

// NewScreenshotProof определяет MIME-тип по содержимому и отклоняет не-изображения.
func NewScreenshotProof(image []byte, maxBytes int64) (ScreenshotProof, error) {
	p := ScreenshotProof{Image: image}
	kind, err := filetype.Match(image)
	if err == nil {
		p.MimeType = kind.MIME.Value
	}
	return p, p.Validate(maxBytes)
}

func (ScreenshotProof) Kind() EvidenceKind { return EvidenceScreenshot }
func (ScreenshotProof) sealed()            {}

func (p ScreenshotProof) Validate(maxBytes int64) error {
	if len(p.Image) == 0 {
		return fmt.Errorf("скриншот пуст")
	}
	if maxBytes > 0 && int64(len(p.Image)) > maxBytes {
		return fmt.Errorf("скриншот превышает лимит %d байт", maxBytes)
	}
	if !filetype.IsImage(p.Image) {
		return fmt.Errorf("скриншот должен быть изображением")
	}
	return nil
}

// UTRReference содержит номер банковской транзакции (UTR / reference id).
type UTRReference struct {
	Reference string `json:"reference"`
}

func (UTRReference) Kind() EvidenceKind { return EvidenceUTR }
func (UTRReference) sealed()            {}

func (p UTRReference) Validate(maxBytes int64) error {
	ref := strings.TrimSpace(p.Reference)
	if len(ref) < 6 || len(ref) > 64 {
		return fmt.Errorf("номер транзакции должен быть от 6 до 64 символов")
	}
	return nil
}

// Proof оборачивает Evidence и хранит его в виде конверта {"kind","data"} в JSON и в БД.
type Proof struct {
	Evidence Evidence
}

type proofEnvelope struct {
	Kind EvidenceKind    `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// NewProof собирает доказательство из конверта и проверяет его.
func NewProof(kind EvidenceKind, data json.RawMessage, maxBytes int64) (*Proof, error) {
	ev, err := decodeEvidence(kind, data)
	if err != nil {
		return nil, err
	}
	if sp, ok := ev.(ScreenshotProof); ok {
		// MIME-тип от клиента не доверяем, определяем заново.
		ev, err = NewScreenshotProof(sp.Image, maxBytes)
		if err != nil {
			return nil, err
		}
	}
	if err := ev.Validate(maxBytes); err != nil {
		return nil, err
	}
	return &Proof{Evidence: ev}, nil
}

func decodeEvidence(kind EvidenceKind, data json.RawMessage) (Evidence, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("данные доказательства отсутствуют")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	switch kind {
	case EvidenceQR:
		var p QRProof
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("некорректный QR-код: %w", err)
		}
		return p, nil
	case EvidenceScreenshot:
		var p ScreenshotProof
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("некорректный скриншот: %w", err)
		}
		return p, nil
	case EvidenceUTR:
		var p UTRReference
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("некорректный номер транзакции: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvidenceKind, kind)
	}
}

// Kind возвращает вид доказательства или пустую строку.
func (p *Proof) Kind() EvidenceKind {
	if p == nil || p.Evidence == nil {
		return ""
	}
	return p.Evidence.Kind()
}

// Clone делает глубокую копию, чтобы снимок не разделял память с заказом.
func (p *Proof) Clone() *Proof {
	if p == nil {
		return nil
	}
	switch ev := p.Evidence.(type) {
	case ScreenshotProof:
		img := make([]byte, len(ev.Image))
		copy(img, ev.Image)
		return &Proof{Evidence: ScreenshotProof{Image: img, MimeType: ev.MimeType}}
	case QRProof, UTRReference, nil:
		return &Proof{Evidence: ev}
	default:
		panic(fmt.Sprintf("models: неизвестный вариант доказательства %T", ev))
	}
}

func (p Proof) MarshalJSON() ([]byte, error) {
	if p.Evidence == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(p.Evidence)
	if err != nil {
		return nil, err
	}
	return json.Marshal(proofEnvelope{Kind: p.Evidence.Kind(), Data: data})
}

func (p *Proof) UnmarshalJSON(b []byte) error {
	var env proofEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	ev, err := decodeEvidence(env.Kind, env.Data)
	if err != nil {
		return err
	}
	p.Evidence = ev
	return nil
}

// Value реализует driver.Valuer для хранения в JSONB.
func (p Proof) Value() (driver.Value, error) {
	if p.Evidence == nil {
		return nil, nil
	}
	return p.MarshalJSON()
}

// Scan реализует sql.Scanner.
func (p *Proof) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		p.Evidence = nil
		return nil
	case []byte:
		return p.UnmarshalJSON(v)
	case string:
		return p.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("models: неподдерживаемый тип для Proof: %T", src)
	}
}
