package sqlinline

const QInsertJob = `--sql 8c878dbb-e486-4904-a5e2-092722746989
insert into generation_jobs (
    id, user_id, kind, status, provider, locale, total_units, unit_price,
    tokens_cost, tokens_refunded, payload, created_at
)
values ($1::uuid, $2::uuid, $3::text, $4::text, $5::text, $6::text, $7::int, $8::int, $9::int, 0, $10::jsonb, $11::timestamptz);
`

const jobColumns = `id, user_id, kind, status, provider, locale, total_units, unit_price,
    tokens_cost, tokens_refunded, payload, coalesce(error_message, ''), created_at, started_at, completed_at`

const QSelectJob = `--sql d11370ce-d5e0-49a5-aa35-5ab279568920
select ` + jobColumns + `
from generation_jobs
where id = $1::uuid;
`

const QSelectJobForUser = `--sql 8db55c14-909e-4b87-81c0-7209bcc8137b
select ` + jobColumns + `
from generation_jobs
where id = $1::uuid
  and user_id = $2::uuid;
`

const QLockJob = `--sql 70108a04-972c-4df3-a4a3-a6de21460893
select ` + jobColumns + `
from generation_jobs
where id = $1::uuid
for update;
`

const QMarkJobStarted = `--sql 2e410511-eab0-47ac-a2d6-01611030848a
update generation_jobs
set status = 'processing',
    started_at = coalesce(started_at, $2::timestamptz)
where id = $1::uuid
  and status in ('pending', 'processing');
`

const QFinalizeJob = `--sql 3404a4dd-d438-4c62-9719-6319b4f61e78
update generation_jobs
set status = $2::text,
    error_message = nullif($3::text, ''),
    tokens_refunded = tokens_refunded + $4::int,
    completed_at = $5::timestamptz
where id = $1::uuid
  and status not in ('completed', 'failed');
`

const QListActiveJobs = `--sql ba80750c-87c7-40b3-88bb-bd791ed55ce5
select
    j.id,
    j.kind,
    j.status,
    count(t.id) filter (where t.status = 'completed') as completed_units,
    j.total_units,
    j.created_at
from generation_jobs j
left join generation_tasks t on t.job_id = j.id
where j.user_id = $1::uuid
  and j.status in ('pending', 'processing')
group by j.id
order by j.created_at desc;
`

// QListStaleJobs compares against the kind-specific cutoff. The clock starts
// at started_at, or created_at for jobs that never started.
const QListStaleJobs = `--sql 89d69b20-c15c-4caa-a53e-30434c169a52
select ` + jobColumns + `
from generation_jobs
where status in ('pending', 'processing')
  and (
    (kind = 'video' and coalesce(started_at, created_at) < $2::timestamptz)
    or (kind <> 'video' and coalesce(started_at, created_at) < $1::timestamptz)
  )
order by coalesce(started_at, created_at) asc
limit $3::int;
`
