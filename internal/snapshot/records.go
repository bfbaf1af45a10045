package snapshot

import (
	"time"

	"jobradar/internal/model"
)

// linkedinRecord mirrors the vendor's LinkedIn dataset row.
type linkedinRecord struct {
	JobPostingID     string  `json:"job_posting_id"`
	JobTitle         string  `json:"job_title"`
	CompanyName      string  `json:"company_name"`
	CompanyID        string  `json:"company_id"`
	CompanyURL       string  `json:"company_url"`
	CompanyLogo      string  `json:"company_logo"`
	JobLocation      string  `json:"job_location"`
	JobSummary       string  `json:"job_summary"`
	JobEmployment    string  `json:"job_employment_type"`
	JobSeniority     string  `json:"job_seniority_level"`
	JobBasePayRange  string  `json:"job_base_pay_range"`
	JobNumApplicants *int    `json:"job_num_applicants"`
	JobPostedDate    string  `json:"job_posted_date"`
	JobIndustries    string  `json:"job_industries"`
	URL              string  `json:"url"`
	ApplyLink        *string `json:"apply_link"`
}

func (r linkedinRecord) toJobRecord() JobRecord {
	rec := JobRecord{
		Source:          model.SourceLinkedIn,
		VendorJobID:     r.JobPostingID,
		Title:           r.JobTitle,
		CompanyName:     r.CompanyName,
		CompanyVendorID: r.CompanyID,
		CompanyURL:      r.CompanyURL,
		CompanyLogoURL:  r.CompanyLogo,
		Location:        r.JobLocation,
		DescriptionHTML: r.JobSummary,
		EmploymentType:  r.JobEmployment,
		Seniority:       r.JobSeniority,
		SalaryText:      r.JobBasePayRange,
		ApplicantCount:  r.JobNumApplicants,
		JobURL:          r.URL,
		Industry:        r.JobIndustries,
	}
	if r.ApplyLink != nil && *r.ApplyLink != "" {
		rec.ApplyURL = *r.ApplyLink
		rec.ApplyAvailable = true
	}
	rec.PostedAt = parseVendorDate(r.JobPostedDate)
	return rec
}

// indeedRecord mirrors the vendor's Indeed dataset row.
type indeedRecord struct {
	JobID           string  `json:"jobid"`
	JobTitle        string  `json:"job_title"`
	CompanyName     string  `json:"company_name"`
	CompanyLink     string  `json:"company_link"`
	CompanyLogo     string  `json:"company_logo_url"`
	Location        string  `json:"location"`
	DescriptionText string  `json:"description_text"`
	DescriptionHTML string  `json:"description"`
	JobType         string  `json:"job_type"`
	Salary          string  `json:"salary_formatted"`
	DatePosted      string  `json:"date_posted_parsed"`
	URL             string  `json:"url"`
	ApplyLink       *string `json:"apply_link"`
}

func (r indeedRecord) toJobRecord() JobRecord {
	rec := JobRecord{
		Source:          model.SourceIndeed,
		VendorJobID:     r.JobID,
		Title:           r.JobTitle,
		CompanyName:     r.CompanyName,
		CompanyVendorID: r.CompanyLink,
		CompanyURL:      r.CompanyLink,
		CompanyLogoURL:  r.CompanyLogo,
		Location:        r.Location,
		DescriptionHTML: r.DescriptionHTML,
		EmploymentType:  r.JobType,
		SalaryText:      r.Salary,
		JobURL:          r.URL,
	}
	if rec.DescriptionHTML == "" {
		rec.DescriptionHTML = r.DescriptionText
	}
	if r.ApplyLink != nil && *r.ApplyLink != "" {
		rec.ApplyURL = *r.ApplyLink
		rec.ApplyAvailable = true
	}
	rec.PostedAt = parseVendorDate(r.DatePosted)
	return rec
}

// parseVendorDate accepts the handful of date layouts the datasets emit.
func parseVendorDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
