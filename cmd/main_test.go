package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/benchrec/internal/domain/model"
)

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTemp(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestFormatCommand(t *testing.T) {
	convey.Convey("Given the format command", t, func() {
		convey.Convey("When formatting a successful time-duration run", func() {
			out, err := execute("format", "--value", "125.5")
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldStartWith, "125.5:02.05.50:")
		})

		convey.Convey("When formatting a time-duration timeout", func() {
			out, err := execute("format", "--timeout", "--max-duration", "300")
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldStartWith, "300:05.00.00:")
		})

		convey.Convey("When formatting a percent timeout", func() {
			out, err := execute("format", "--timeout", "--metric", "percent", "--max-duration", "300")
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldStartWith, "0:failure:")
		})

		convey.Convey("When formatting an errored distance run", func() {
			out, err := execute("format", "--error", "--metric", "distance")
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldStartWith, "0:failure:")
		})

		convey.Convey("When two outcomes are requested", func() {
			_, err := execute("format", "--value", "1", "--timeout")
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("When the metric is unknown", func() {
			_, err := execute("format", "--value", "1", "--metric", "laps")
			convey.So(errors.Is(err, model.ErrUnknownMetric), convey.ShouldBeTrue)
		})
	})
}

func TestClassifyCommand(t *testing.T) {
	convey.Convey("Given saved simulator logs", t, func() {
		dir := t.TempDir()

		convey.Convey("When replaying a completed run", func() {
			log := writeTemp(t, dir, "ok.log", strings.Join([]string{
				"INFO: 'supervisor' waiting for connection",
				"INFO: 'competitor' starting",
				"performance_line:12.5",
				"INFO: animation saved",
			}, "\n")+"\n")
			out, err := execute("classify", log, "--metric", "distance")

			convey.Convey("Then the outcome and its record are printed", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "outcome: completed(12.5)")
				convey.So(out, convey.ShouldContainSubstring, "controller launches: 1")
				convey.So(out, convey.ShouldContainSubstring, "record: 12.5:12.500 m.:")
			})
		})

		convey.Convey("When a result arrives before the simulator is ready", func() {
			log := writeTemp(t, dir, "early.log", "performance_line:3\nINFO: exiting\n")
			out, err := execute("classify", log)

			convey.Convey("Then the run never resolves and ends errored", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "outcome: errored(stream closed)")
				convey.So(out, convey.ShouldContainSubstring, "controller launches: 0")
				convey.So(out, convey.ShouldContainSubstring, "reason:")
			})
		})

		convey.Convey("When echo is requested", func() {
			log := writeTemp(t, dir, "timeout.log", "waiting for connection\nController timeout\n")
			out, err := execute("classify", log, "--echo")
			convey.So(err, convey.ShouldBeNil)
			convey.So(out, convey.ShouldStartWith, "waiting for connection\nController timeout\n")
			convey.So(out, convey.ShouldContainSubstring, "outcome: timed_out")
		})

		convey.Convey("When the file does not exist", func() {
			_, err := execute("classify", filepath.Join(dir, "missing.log"))
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}

func TestStandingsCommand(t *testing.T) {
	convey.Convey("Given a result set and its configuration", t, func() {
		t.Setenv("BENCH_CONFIG", "")
		dir := t.TempDir()
		results := writeTemp(t, dir, "competitors.txt", strings.Join([]string{
			"1:alice/walker:125.5:02.05.50:2026-03-14",
			"2:bob/runner:0:failure:2026-03-14",
			"3:carol/jumper:80.2:01.20.20:2026-03-14",
			"4:dave/crawler",
		}, "\n")+"\n")
		cfgFile := writeTemp(t, dir, "bench.yaml",
			"world:\n  file: worlds/benchmark.wbt\n  metric: time-duration\ncompetitors_file: "+results+"\n")

		convey.Convey("When printing the standings", func() {
			out, err := execute("standings", "--config", cfgFile)

			convey.Convey("Then the fastest run ranks first and failures last", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldEqual,
					"1\t3\tcarol/jumper\t01.20.20\n"+
						"2\t1\talice/walker\t02.05.50\n"+
						"3\t2\tbob/runner\tfailure\n")
			})
		})

		convey.Convey("When limiting the output", func() {
			out, err := execute("standings", "--config", cfgFile, "-n", "1")
			convey.So(err, convey.ShouldBeNil)
			convey.So(strings.Count(out, "\n"), convey.ShouldEqual, 1)
		})
	})
}
