package mp4

import (
	"fmt"
	"io"

	gomp4 "github.com/abema/go-mp4"
)

const (
	sampleFlagIsNonSyncSample = 1 << 16

	tfhdBaseDataOffsetPresent        = 0x000001
	tfhdDefaultSampleDurationPresent = 0x000008
	tfhdDefaultSampleSizePresent     = 0x000010
	tfhdDefaultSampleFlagsPresent    = 0x000020
	trunDataOffsetPresent            = 0x000001
	trunFirstSampleFlagsPresent      = 0x000004
	trunSampleDurationPresent        = 0x000100
	trunSampleSizePresent            = 0x000200
	trunSampleFlagsPresent           = 0x000400
	trunSampleCompositionTimePresent = 0x000800
)

type indexedSample struct {
	offset    uint64
	size      uint32
	dts       int64
	ptsOffset int32
	duration  uint32
	sync      bool
}

type indexedTrack struct {
	id        int
	timeScale uint32
	samples   []*indexedSample
}

// endDTS returns the DTS of the end of the last sample.
func (t *indexedTrack) endDTS() int64 {
	if len(t.samples) == 0 {
		return 0
	}
	last := t.samples[len(t.samples)-1]
	return last.dts + int64(last.duration)
}

func findIndexedTrack(tracks []*indexedTrack, id int) *indexedTrack {
	for _, track := range tracks {
		if track.id == id {
			return track
		}
	}
	return nil
}

// buildIndex walks the fragments of a file and collects the position and timing of every sample.
func buildIndex(r io.ReadSeeker, tracks []*indexedTrack) error {
	_, err := r.Seek(0, io.SeekStart)
	if err != nil {
		return err
	}

	var moofOffset uint64
	var tfhd *gomp4.Tfhd
	var track *indexedTrack
	var baseTime int64
	var baseDataOffset uint64
	var nextDataOffset uint64

	_, err = gomp4.ReadBoxStructure(r, func(h *gomp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type.String() {
		case "moof":
			moofOffset = h.BoxInfo.Offset
			return h.Expand()

		case "traf":
			return h.Expand()

		case "tfhd":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			tfhd = box.(*gomp4.Tfhd)

			track = findIndexedTrack(tracks, int(tfhd.TrackID))
			if track == nil {
				return nil, fmt.Errorf("invalid track ID: %v", tfhd.TrackID)
			}

			// without an explicit base, offsets are relative to the moof
			if tfhd.CheckFlag(tfhdBaseDataOffsetPresent) {
				baseDataOffset = tfhd.BaseDataOffset
			} else {
				baseDataOffset = moofOffset
			}
			nextDataOffset = baseDataOffset

			if len(track.samples) != 0 {
				baseTime = track.endDTS()
			} else {
				baseTime = 0
			}

		case "tfdt":
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			tfdt := box.(*gomp4.Tfdt)

			if tfdt.GetVersion() == 0 {
				baseTime = int64(tfdt.BaseMediaDecodeTimeV0)
			} else {
				baseTime = int64(tfdt.BaseMediaDecodeTimeV1)
			}

		case "trun":
			if tfhd == nil {
				return nil, fmt.Errorf("trun box without tfhd")
			}

			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			trun := box.(*gomp4.Trun)

			dataOffset := nextDataOffset
			if trun.CheckFlag(trunDataOffsetPresent) {
				dataOffset = uint64(int64(baseDataOffset) + int64(trun.DataOffset))
			}

			dts := baseTime

			for i, e := range trun.Entries {
				sa := &indexedSample{
					offset:   dataOffset,
					size:     tfhd.DefaultSampleSize,
					dts:      dts,
					duration: tfhd.DefaultSampleDuration,
				}

				if trun.CheckFlag(trunSampleSizePresent) {
					sa.size = e.SampleSize
				} else if !tfhd.CheckFlag(tfhdDefaultSampleSizePresent) {
					return nil, fmt.Errorf("sample size not provided")
				}

				if trun.CheckFlag(trunSampleDurationPresent) {
					sa.duration = e.SampleDuration
				} else if !tfhd.CheckFlag(tfhdDefaultSampleDurationPresent) {
					return nil, fmt.Errorf("sample duration not provided")
				}

				var flags uint32
				switch {
				case trun.CheckFlag(trunSampleFlagsPresent):
					flags = e.SampleFlags
				case i == 0 && trun.CheckFlag(trunFirstSampleFlagsPresent):
					flags = trun.FirstSampleFlags
				case tfhd.CheckFlag(tfhdDefaultSampleFlagsPresent):
					flags = tfhd.DefaultSampleFlags
				}
				sa.sync = (flags & sampleFlagIsNonSyncSample) == 0

				if trun.CheckFlag(trunSampleCompositionTimePresent) {
					if trun.GetVersion() == 0 {
						sa.ptsOffset = int32(e.SampleCompositionTimeOffsetV0)
					} else {
						sa.ptsOffset = e.SampleCompositionTimeOffsetV1
					}
				}

				track.samples = append(track.samples, sa)

				dataOffset += uint64(sa.size)
				dts += int64(sa.duration)
			}

			nextDataOffset = dataOffset
			baseTime = dts
		}
		return nil, nil
	})
	return err
}
