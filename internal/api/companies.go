package api

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"jobradar/internal/store"
)

var companyCSVHeader = []string{"canonical_name", "linkedin_id", "indeed_id", "logo_url", "industry"}

// exportCompanies streams the company master data as CSV, one page at a time.
func (s *Server) exportCompanies(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="companies.csv"`)

	cw := csv.NewWriter(w)
	if err := cw.Write(companyCSVHeader); err != nil {
		s.logger.Error("company export failed", zap.Error(err))
		return
	}
	offset := 0
	for {
		page, err := s.store.ListCompanies(r.Context(), offset, store.PageSize)
		if err != nil {
			s.logger.Error("company export failed", zap.Error(err))
			return
		}
		for _, c := range page {
			row := []string{
				c.CanonicalName,
				strOrEmpty(c.LinkedInID),
				strOrEmpty(c.IndeedID),
				strOrEmpty(c.LogoURL),
				strOrEmpty(c.Industry),
			}
			if err := cw.Write(row); err != nil {
				s.logger.Error("company export failed", zap.Error(err))
				return
			}
		}
		if len(page) < store.PageSize {
			break
		}
		offset += len(page)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		s.logger.Error("company export failed", zap.Error(err))
	}
}

// importCompanies upserts company rows from an uploaded CSV. The header must
// match the export layout. Rows are applied independently; the response
// reports how many were imported and how many were skipped.
func (s *Server) importCompanies(w http.ResponseWriter, r *http.Request) {
	cr := csv.NewReader(r.Body)
	cr.FieldsPerRecord = len(companyCSVHeader)

	header, err := cr.Read()
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing CSV header")
		return
	}
	for i, want := range companyCSVHeader {
		if header[i] != want {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("unexpected CSV header: want %q in column %d", want, i+1))
			return
		}
	}

	imported, skipped := 0, 0
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed CSV at line %d", line))
			return
		}
		name := row[0]
		if name == "" {
			skipped++
			continue
		}
		ids := store.VendorIDs{LinkedIn: nilIfEmpty(row[1]), Indeed: nilIfEmpty(row[2])}
		_, err = s.store.UpsertCompany(r.Context(), name, ids, nilIfEmpty(row[3]), nilIfEmpty(row[4]), nil)
		if err != nil {
			s.logger.Warn("company import row failed",
				zap.Int("line", line), zap.String("name", name), zap.Error(err))
			skipped++
			continue
		}
		imported++
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": imported, "skipped": skipped})
}

func strOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func nilIfEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
