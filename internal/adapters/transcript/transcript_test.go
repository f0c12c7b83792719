package transcript_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/benchrec/internal/adapters/transcript"
)

func TestTranscript(t *testing.T) {
	convey.Convey("Given a transcript store", t, func() {
		fsys := afero.NewMemMapFs()
		s := transcript.New("logs", transcript.WithFs(fsys))
		body := strings.Repeat("INFO: step\n", 200) + "performance_line:12.5\n"

		convey.Convey("When a run's output is written", func() {
			w, err := s.Create("7", "run-1")
			convey.So(err, convey.ShouldBeNil)
			_, err = io.WriteString(w, body)
			convey.So(err, convey.ShouldBeNil)
			convey.So(w.Close(), convey.ShouldBeNil)

			convey.Convey("Then the file is compressed and reads back unchanged", func() {
				convey.So(w.Path(), convey.ShouldEqual, "logs/competitor_7-run-1.log.zst")
				info, err := fsys.Stat(w.Path())
				convey.So(err, convey.ShouldBeNil)
				convey.So(info.Size(), convey.ShouldBeLessThan, len(body))

				r, err := transcript.Open(fsys, w.Path())
				convey.So(err, convey.ShouldBeNil)
				defer r.Close()
				got, err := io.ReadAll(r)
				convey.So(err, convey.ShouldBeNil)
				convey.So(string(got), convey.ShouldEqual, body)
			})
		})

		convey.Convey("When opening a plain log", func() {
			convey.So(afero.WriteFile(fsys, "plain.log", []byte("hello\n"), 0o644), convey.ShouldBeNil)
			r, err := transcript.Open(fsys, "plain.log")
			convey.So(err, convey.ShouldBeNil)
			got, _ := io.ReadAll(r)
			convey.So(string(got), convey.ShouldEqual, "hello\n")
			convey.So(r.Close(), convey.ShouldBeNil)
		})

		convey.Convey("When the file is missing", func() {
			_, err := transcript.Open(fsys, "missing.log.zst")
			convey.So(errors.Is(err, transcript.ErrTranscript), convey.ShouldBeTrue)
		})
	})
}
