package download

import "github.com/bogem/id3v2"

// TagFile writes title and artist frames into the mp3 at path, keeping any
// other frames already present.
func TagFile(path, title, artist string) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return err
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle(title)
	tag.SetArtist(artist)
	return tag.Save()
}
