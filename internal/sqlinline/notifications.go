package sqlinline

const QInsertNotification = `--sql 21041b96-be1c-4bb1-be6c-324e9aa27044
insert into notifications (id, user_id, job_id, title, message, type, created_at)
values ($1::uuid, $2::uuid, nullif($3::text, '')::uuid, $4::text, $5::text, $6::text, $7::timestamptz);
`
