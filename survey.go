package paydirt

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/hashicorp/go-multierror"
	"github.com/inconshreveable/log15"
)

// A Survey contains the properties and methods necessary to inventory the
// S3 storage usage of one account or a whole organization. Create a
// SurveyInput object and pass it to this package's New method to get a
// new Survey. From there call the Start method of the Survey. When that
// is complete the rows can be exported using other methods.
type Survey struct {
	// Rows holds one rendered row per surveyed bucket after Start
	// completes. This property is exported so that it could be
	// marshalled to another format if the ExportCSV format is not
	// ideal.
	Rows []Row

	registry     *Registry
	columns      *ColumnSet
	engine       *RowEngine
	session      *session.Session
	allAccounts  bool
	orgRoleName  string
	lookbackDays int
	storageTypes []string
	outfile      string
	log          log15.Logger
	skipped      *multierror.Error
}

// SurveyInput provides configuration inputs for starting a new Survey of
// S3 storage usage.
type SurveyInput struct {
	// AWS Session to use for credentials for this survey.
	//
	// Session is a required field
	Session *session.Session

	// When AllAccounts is true the survey walks every ACTIVE account
	// in the organization, assuming OrgRoleName in each. When false
	// only the session's own account is surveyed.
	// Default: false
	AllAccounts *bool

	// Name of the role that exists in each member account, trusted
	// by the management account. Only used with AllAccounts.
	// Default: "OrgS3ReadRole"
	OrgRoleName *string

	// How many days back to look in CloudWatch for a BucketSizeBytes
	// datapoint.
	// Default: 3
	LookbackDays *int

	// The S3 storage classes to query sizes for.
	// Default: DefaultStorageTypes
	StorageTypes []string

	// If the ExportCSV method is called on the returned Survey it
	// will write all rows to the Outfile filename in csv format.
	// Default: "s3-inventory.csv"
	Outfile *string

	// Columns to enable on top of the defaults, by column name.
	EnableColumns []string

	// Columns to disable, by column name. Applied after EnableColumns.
	DisableColumns []string

	// Columns replaces the default column set entirely. EnableColumns
	// and DisableColumns still apply to it.
	Columns *ColumnSet

	// Registry replaces the default fact registry entirely. Any fact
	// key the enabled columns require must be registered in it.
	Registry *Registry

	// Survey uses log15 (https://github.com/inconshreveable/log15)
	// as an opinionated logging framework. If no Logger is provided
	// Survey will set up its own handler to stdout.
	Logger *log15.Logger
}

// New returns a Survey object whose methods can be called to perform an
// S3 storage inventory. This method accepts a SurveyInput struct which
// can be used to set up the Survey inputs. This method will set any
// default values for any property that was not specified in the
// SurveyInput object. Column toggles and fact registration are validated
// here, before any AWS call is made.
func New(input *SurveyInput) (svy *Survey, err error) {
	var s Survey

	if input.Session == nil {
		err = errors.New("Session is required")
		return &s, err
	}
	s.session = input.Session

	DefaultAllAccounts := false
	if input.AllAccounts == nil {
		input.AllAccounts = &DefaultAllAccounts
	}
	s.allAccounts = *input.AllAccounts

	DefaultOrgRoleName := "OrgS3ReadRole"
	if input.OrgRoleName == nil {
		input.OrgRoleName = &DefaultOrgRoleName
	}
	s.orgRoleName = *input.OrgRoleName

	DefaultLookbackDays := 3
	if input.LookbackDays == nil {
		input.LookbackDays = &DefaultLookbackDays
	}
	s.lookbackDays = *input.LookbackDays

	s.storageTypes = input.StorageTypes
	if s.storageTypes == nil {
		s.storageTypes = DefaultStorageTypes
	}

	DefaultOutfile := "s3-inventory.csv"
	if input.Outfile == nil {
		input.Outfile = &DefaultOutfile
	}
	s.outfile = *input.Outfile

	if input.Logger == nil {
		s.setDefaultLogger()
	} else {
		s.log = *input.Logger
	}

	s.columns = input.Columns
	if s.columns == nil {
		s.columns, err = DefaultColumns(s.storageTypes)
		if err != nil {
			return &s, err
		}
	}
	for _, name := range input.EnableColumns {
		if err = s.columns.Toggle(name, true); err != nil {
			return &s, err
		}
	}
	for _, name := range input.DisableColumns {
		if err = s.columns.Toggle(name, false); err != nil {
			return &s, err
		}
	}

	s.registry = input.Registry
	if s.registry == nil {
		s.registry, err = DefaultRegistry(s.lookbackDays, s.storageTypes, s.log)
		if err != nil {
			return &s, err
		}
	}

	s.engine, err = NewRowEngine(s.registry, s.columns, s.log)
	if err != nil {
		return &s, err
	}
	return &s, err
}

// setDefaultLogger just sets up a logger for the Survey set to Info and
// stdout by default.
func (s *Survey) setDefaultLogger() {
	s.log = log15.New()
	s.log.SetHandler(
		log15.LvlFilterHandler(
			log15.LvlInfo,
			log15.StreamHandler(os.Stdout, log15.LogfmtFormat()),
		),
	)
}

// Start kicks off the survey. After this completes the rows can be
// exported. An account or bucket that could not be surveyed does not
// fail the run; those failures are collected and available via Skipped.
func (s *Survey) Start() (err error) {
	s.log.Info(
		"starting survey",
		"columns", fmt.Sprintf("%v", s.engine.Header()),
		"facts", fmt.Sprintf("%v", s.engine.NeededFacts()),
	)
	buf := rowBuffer{}
	if err = buf.WriteHeader(s.engine.Header()); err != nil {
		return err
	}
	if s.allAccounts {
		err = s.surveyOrganization(&buf)
	} else {
		err = s.surveyAccount(s.session, &buf)
	}
	if err != nil {
		return err
	}
	s.Rows = buf.rows
	s.log.Info("survey complete", "rows", len(s.Rows))
	return err
}

// surveyAccount runs one engine pass over the buckets reachable through
// sess. An enumeration failure here means the listing never started, so
// it is returned to the caller.
func (s *Survey) surveyAccount(sess *session.Session, w ReportWriter) (err error) {
	clb := newCollaborators(sess)
	enum := newBucketEnumerator(clb.S3, s.log)
	emitted, err := s.engine.ProcessAll(enum, clb, w)
	if err != nil {
		return err
	}
	s.log.Debug("finished account pass", "rows", emitted)
	return err
}

// surveyOrganization walks every ACTIVE account in the organization and
// runs an account pass in each. Only the initial account listing is
// fatal; an account that cannot be assumed or listed is recorded as
// skipped and the walk continues.
func (s *Survey) surveyOrganization(w ReportWriter) (err error) {
	accounts, err := listOrgAccounts(s.session, s.log)
	if err != nil {
		return err
	}
	s.log.Info("found active accounts in the organization", "count", len(accounts))
	for _, accountID := range accounts {
		s.log.Info("surveying account", "account", accountID)
		memberSess, err := assumeRole(s.session, accountID, s.orgRoleName)
		if err != nil {
			s.log.Warn(
				"could not assume role in account, skipping",
				"account", accountID, "role", s.orgRoleName, "error", err.Error(),
			)
			s.skipped = multierror.Append(s.skipped, fmt.Errorf("account %s: assume role: %w", accountID, err))
			continue
		}
		if err := s.surveyAccount(memberSess, w); err != nil {
			s.log.Warn(
				"could not list buckets in account, skipping",
				"account", accountID, "error", err.Error(),
			)
			s.skipped = multierror.Append(s.skipped, fmt.Errorf("account %s: list buckets: %w", accountID, err))
		}
	}
	return nil
}

// Skipped returns the accumulated per-account failures from the last
// Start, or nil if every account was surveyed.
func (s *Survey) Skipped() error {
	return s.skipped.ErrorOrNil()
}

// ExportCSV takes all of the rows collected by the current Survey and
// writes them to a csv of the filename that's set upon Survey creation.
func (s *Survey) ExportCSV() (err error) {
	csvfile, err := os.Create(s.outfile)
	if err != nil {
		return err
	}
	w := NewCSVWriter(csvfile)
	if err = w.WriteHeader(s.engine.Header()); err != nil {
		csvfile.Close()
		return err
	}
	for _, row := range s.Rows {
		if err = w.WriteRow(row); err != nil {
			csvfile.Close()
			return err
		}
	}
	w.Flush()
	if err = w.Err(); err != nil {
		csvfile.Close()
		return err
	}
	err = csvfile.Close()
	s.log.Info("wrote rows to file", "filename", s.outfile, "rows", len(s.Rows))
	return err
}

// rowBuffer collects rows in memory so they can be exported after the
// run, mirroring how Survey keeps its results on the struct.
type rowBuffer struct {
	header []string
	rows   []Row
}

func (b *rowBuffer) WriteHeader(columns []string) error {
	b.header = columns
	return nil
}

func (b *rowBuffer) WriteRow(row Row) error {
	b.rows = append(b.rows, row)
	return nil
}

// A CSVWriter is a ReportWriter that serializes the report as csv.
type CSVWriter struct {
	w *csv.Writer
}

// NewCSVWriter returns a CSVWriter emitting to w.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

// WriteHeader writes the column names as the csv header record.
func (c *CSVWriter) WriteHeader(columns []string) error {
	return c.w.Write(columns)
}

// WriteRow writes one row's values as a csv record.
func (c *CSVWriter) WriteRow(row Row) error {
	return c.w.Write(row.Values())
}

// Flush flushes the underlying csv writer.
func (c *CSVWriter) Flush() {
	c.w.Flush()
}

// Err reports any error from a previous write or flush.
func (c *CSVWriter) Err() error {
	return c.w.Error()
}
