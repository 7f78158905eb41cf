package page

import (
	"strconv"
	"time"
)

// Flat metadata keys shared by every index backend.
const (
	FieldID          = "id"
	FieldDocumentID  = "doc_id"
	FieldFilePath    = "file_path"
	FieldFileName    = "file_name"
	FieldFileType    = "file_type"
	FieldContentType = "content_type"
	FieldDivision    = "division"
	FieldPageNumber  = "page_number"
	FieldTotalPages  = "total_pages"
	FieldText        = "text"
	FieldLanguage    = "language"
	FieldMethod      = "method"
	FieldWarning     = "warning"
	FieldIndexedAt   = "indexed_at"
)

// MetadataFields lists every key written by Fields except the text.
var MetadataFields = []string{
	FieldID, FieldDocumentID, FieldFilePath, FieldFileName, FieldFileType,
	FieldContentType, FieldDivision, FieldPageNumber, FieldTotalPages,
	FieldLanguage, FieldMethod, FieldWarning, FieldIndexedAt,
}

// Fields flattens the record into string metadata. The text is included only
// when withText is set; the vector never is.
func (r *Record) Fields(withText bool) map[string]string {
	m := map[string]string{
		FieldID:          r.ID,
		FieldDocumentID:  r.DocumentID,
		FieldFilePath:    r.FilePath,
		FieldFileName:    r.FileName,
		FieldFileType:    r.FileType,
		FieldContentType: r.ContentType,
		FieldDivision:    r.Division,
		FieldPageNumber:  strconv.Itoa(r.PageNumber),
		FieldTotalPages:  strconv.Itoa(r.TotalPages),
		FieldLanguage:    r.Language,
		FieldMethod:      string(r.Method),
		FieldWarning:     r.Warning,
	}
	if !r.IndexedAt.IsZero() {
		m[FieldIndexedAt] = r.IndexedAt.UTC().Format(time.RFC3339)
	}
	if withText {
		m[FieldText] = r.Text
	}
	return m
}

// FromFields rebuilds a record from flat metadata. Unknown keys are ignored
// and malformed numbers decode as zero. id wins over the stored id field.
func FromFields(id string, m map[string]string) Record {
	r := Record{
		ID:          m[FieldID],
		DocumentID:  m[FieldDocumentID],
		FilePath:    m[FieldFilePath],
		FileName:    m[FieldFileName],
		FileType:    m[FieldFileType],
		ContentType: m[FieldContentType],
		Division:    m[FieldDivision],
		Text:        m[FieldText],
		Language:    m[FieldLanguage],
		Method:      Method(m[FieldMethod]),
		Warning:     m[FieldWarning],
	}
	if id != "" {
		r.ID = id
	}
	r.PageNumber, _ = strconv.Atoi(m[FieldPageNumber])
	r.TotalPages, _ = strconv.Atoi(m[FieldTotalPages])
	if ts := m[FieldIndexedAt]; ts != "" {
		r.IndexedAt, _ = time.Parse(time.RFC3339, ts)
	}
	return r
}
