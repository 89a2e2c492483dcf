// Command lexify fills in LEXIFY request forms from the terminal. A draft is
// read from a JSON or YAML file, checked against its category, previewed
// and submitted with its attachments.
//
// Usage:
//
//	lexify categories
//	lexify validate -category KEY -draft FILE
//	lexify preview  -category KEY -draft FILE [-background FILE]... [-supplier FILE]...
//	lexify submit   -category KEY -draft FILE [-background FILE]... [-supplier FILE]...
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lexify/requestforms/category"
	"github.com/lexify/requestforms/form"
	"github.com/lexify/requestforms/internal/config"
	"github.com/lexify/requestforms/internal/logger"
	"github.com/lexify/requestforms/submit"
)

// fileList collects a repeatable path flag.
type fileList []string

func (f *fileList) String() string { return strings.Join(*f, ",") }

func (f *fileList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

type app struct {
	cfg    *config.Config
	out    io.Writer
	client *submit.Client
	specs  func() ([]*category.Spec, error)
}

func main() {
	if err := logger.Setup(logger.Options{Service: "lexify-cli", Level: "warn", Output: os.Stderr}); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	a := &app{
		cfg:    cfg,
		out:    os.Stdout,
		client: submit.NewClient(cfg.APIURL, submit.WithToken(cfg.Token)),
		specs:  category.BuiltinSpecs,
	}
	if cfg.SpecsDir != "" {
		a.specs = func() ([]*category.Spec, error) { return category.SpecsFromDir(cfg.SpecsDir) }
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: lexify <categories|validate|preview|submit> [flags]")
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		usage(a.out)
		return errors.New("no command given")
	}

	switch args[0] {
	case "categories":
		return a.categories()
	case "validate", "preview", "submit":
	default:
		usage(a.out)
		return fmt.Errorf("unknown command %q", args[0])
	}

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(a.out)
	var (
		key, draftPath       string
		background, supplier fileList
	)
	fs.StringVar(&key, "category", "", "assignment type of the request (see lexify categories)")
	fs.StringVar(&draftPath, "draft", "", "draft file, .json or .yaml")
	fs.Var(&background, "background", "background attachment (repeatable)")
	fs.Var(&supplier, "supplier", "supplier attachment (repeatable)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if key == "" || draftPath == "" {
		fs.Usage()
		return errors.New("-category and -draft are required")
	}

	engine, err := a.engine(key)
	if err != nil {
		return err
	}
	df, err := readDraft(draftPath)
	if err != nil {
		return err
	}

	session := form.NewSession(engine, a.client)
	if err := fill(session.Draft(), df, background, supplier); err != nil {
		return err
	}

	switch args[0] {
	case "validate":
		return a.validate(engine, session.Draft().Get())
	case "preview":
		return a.preview(ctx, engine, session.Draft().Get())
	default:
		return a.submit(ctx, session)
	}
}

func (a *app) registry() (*category.Registry, error) {
	specs, err := a.specs()
	if err != nil {
		return nil, err
	}
	reg := category.NewRegistry(category.InMemoryStores())
	if err := reg.LoadAll(specs); err != nil {
		return nil, err
	}
	return reg, nil
}

func (a *app) engine(key string) (*form.Engine, error) {
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}
	cat, err := reg.Get(key)
	if err != nil {
		return nil, err
	}
	return form.NewEngine(cat), nil
}

func (a *app) categories() error {
	reg, err := a.registry()
	if err != nil {
		return err
	}
	for _, cat := range reg.List() {
		fmt.Fprintf(a.out, "%-28s %s / %s\n", cat.Spec.Key, cat.Spec.Category, cat.Spec.Subcategory)
	}
	return nil
}

func (a *app) validate(engine *form.Engine, snap form.Snapshot) error {
	errs, err := engine.ValidateAll(snap)
	if err != nil {
		return err
	}
	if len(errs) == 0 {
		fmt.Fprintln(a.out, "Draft is complete.")
		return nil
	}
	for _, verr := range errs {
		fmt.Fprintf(a.out, "[%s] %s\n", verr.Stage, verr.Message)
	}
	return errors.New(errs[0].Message)
}

func (a *app) preview(ctx context.Context, engine *form.Engine, snap form.Snapshot) error {
	user, err := a.client.CurrentUser(ctx)
	if err != nil {
		logger.Warn("Could not load user context, previewing without it", "error", err)
	}
	doc, err := engine.Preview(snap, user)
	if err != nil {
		return err
	}
	return doc.WriteText(a.out)
}

func (a *app) submit(ctx context.Context, session *form.Session) error {
	receipt, err := session.Submit(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Request submitted: %s (%s)\n", receipt.ID, receipt.State)
	return nil
}
