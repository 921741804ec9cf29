package composer

// audioOutputFormat returns the format of the output audio track.
// Compressed formats are kept since there's no software encoder for them.
func audioOutputFormat(in *Format) (*Format, error) {
	switch in.MimeType {
	case MimeTypeAAC, MimeTypeOpus:
		return in.Clone(), nil

	case MimeTypeLPCM:
		out := in.Clone()
		out.CSD = nil
		if out.BitDepth == 0 {
			out.BitDepth = 16
		}
		return out, nil

	default:
		return nil, configErrorf("unsupported audio format: %s", in.MimeType)
	}
}

// audioNeedsRemix returns whether audio must be decoded and encoded again.
// Samples can be copied only when every property that ends up in the
// container matches and timestamps are left untouched.
func audioNeedsRemix(in *Format, out *Format, ts TimeScale) bool {
	if !ts.IsOne() {
		return true
	}

	if in.MimeType != out.MimeType ||
		in.SampleRate != out.SampleRate ||
		in.ChannelCount != out.ChannelCount {
		return true
	}

	if in.MimeType == MimeTypeLPCM {
		inDepth := in.BitDepth
		if inDepth == 0 {
			inDepth = 16
		}
		if inDepth != out.BitDepth || in.LittleEndian != out.LittleEndian {
			return true
		}
	}

	return false
}

func audioCanRemix(format *Format) bool {
	return format.MimeType == MimeTypeLPCM
}
