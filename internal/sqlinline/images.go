package sqlinline

const QInsertImage = `--sql 6b36224c-83dd-4cb3-9def-d9963f973b4c
insert into images (id, user_id, url, storage_key, mime, width, height)
values ($1::text, $2::text, $3::text, $4::text, $5::text, $6::int, $7::int)
returning created_at;
`

const QSelectImageByID = `--sql c09d7c1b-d495-415a-842e-c7ed9bfb6df8
select id, user_id, url, storage_key, mime, width, height, created_at
from images
where id = $1::text;
`
