package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"ingestd/internal/model"
)

type scheduleDTO struct {
	IntervalSecs *uint64 `yaml:"interval_secs"`
	Cron         string  `yaml:"cron"`
}

type jobDTO struct {
	Name          string       `yaml:"name"`
	DataSource    string       `yaml:"datasource"`
	Method        string       `yaml:"method"`
	Schedule      *scheduleDTO `yaml:"schedule"`
	IntervalSecs  *uint64      `yaml:"interval_secs"`
	Cron          string       `yaml:"cron"`
	Params        any          `yaml:"params"`
	RetentionDays uint32       `yaml:"retention_days"`
	Enabled       *bool        `yaml:"enabled"`
	Targets       []string     `yaml:"targets"`
	StateTTLSecs  uint64       `yaml:"state_ttl_secs"`
}

type fileDTO struct {
	Jobs   []jobDTO `yaml:"jobs"`
	jobDTO `yaml:",inline"`
}

// LoadJobsDir reads every *.yaml and *.yml file in dir in name order. A document holds either one
// job or a `jobs:` list; files may carry several documents.
func LoadJobsDir(dir string) ([]model.IngestionJob, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read jobs dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var out []model.IngestionJob
	for _, name := range names {
		jobs, err := loadJobsFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, jobs...)
	}
	return out, nil
}

func loadJobsFile(path string) ([]model.IngestionJob, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open job file: %w", err)
	}
	defer f.Close()

	var out []model.IngestionJob
	dec := yaml.NewDecoder(f)
	for {
		var doc fileDTO
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		dtos := doc.Jobs
		if len(dtos) == 0 && doc.Name != "" {
			dtos = []jobDTO{doc.jobDTO}
		}
		for _, d := range dtos {
			job, err := d.toJob()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			out = append(out, job)
		}
	}
	return out, nil
}

func (d jobDTO) toJob() (model.IngestionJob, error) {
	sched := scheduleDTO{IntervalSecs: d.IntervalSecs, Cron: d.Cron}
	if d.Schedule != nil {
		sched = *d.Schedule
	}
	job := model.IngestionJob{
		Name:          d.Name,
		DataSource:    d.DataSource,
		Method:        d.Method,
		RetentionDays: d.RetentionDays,
		Enabled:       d.Enabled == nil || *d.Enabled,
		StateTTLSecs:  d.StateTTLSecs,
	}
	switch {
	case sched.IntervalSecs != nil && sched.Cron != "":
		return model.IngestionJob{}, fmt.Errorf("job %q: set interval_secs or cron, not both", d.Name)
	case sched.IntervalSecs != nil:
		job.Schedule = model.Interval(*sched.IntervalSecs)
	case sched.Cron != "":
		job.Schedule = model.Cron(sched.Cron)
	default:
		return model.IngestionJob{}, fmt.Errorf("job %q: schedule needs interval_secs or cron", d.Name)
	}
	for _, t := range d.Targets {
		job.Targets = append(job.Targets, model.Target(strings.ToLower(strings.TrimSpace(t))))
	}
	if d.Params != nil {
		b, err := json.Marshal(d.Params)
		if err != nil {
			return model.IngestionJob{}, fmt.Errorf("job %q: encode params: %w", d.Name, err)
		}
		job.Params = b
	}
	job = job.WithDefaults()
	if err := job.Validate(); err != nil {
		return model.IngestionJob{}, err
	}
	return job, nil
}
